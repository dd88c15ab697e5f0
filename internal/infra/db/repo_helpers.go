package db

import "errors"

var errDBUnavailable = errors.New("db unavailable")

const auditChainName = "keyd"

func stringPtrIfNotEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
