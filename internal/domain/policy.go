package domain

import "context"

// PolicyInput is the document handed to the request policy for every operation.
type PolicyInput struct {
	Operation      Operation `json:"operation"`
	KeyID          *KeyID    `json:"key_id,omitempty"`
	PlaintextBytes int       `json:"plaintext_bytes"`
	ClientIP       string    `json:"client_ip,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	ModuleHash string       `json:"module_hash"`
	Result     PolicyResult `json:"result"`
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input PolicyInput) (PolicyEvaluation, error)
}
