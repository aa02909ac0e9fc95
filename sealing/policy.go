package sealing

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/medledger/record-vault-backend/interfaces"
)

// PolicyRule is one clause of an encryption policy.
type PolicyRule struct {
	Principal   string   `json:"principal"`
	Permissions []string `json:"permissions"`
	Conditions  []string `json:"conditions,omitempty"`
}

// Policy binds a record's encryption to a patient identity and the registry
// contract. A new policy is built for every write and never mutated.
type Policy struct {
	Identity       interfaces.PrincipalID     `json:"identity"`
	Contract       interfaces.ContractAddress `json:"contract"`
	Threshold      int                        `json:"threshold"`
	Rules          []PolicyRule               `json:"rules"`
	ComplianceTags []string                   `json:"compliance_tags"`
}

// complianceTags are the regulatory regimes every record policy is tagged
// with. The audit projector reports per-regime compliance against them.
var complianceTags = []string{"gdpr", "kvkk", "hipaa"}

// BuildPolicy constructs the deterministic policy for a record write. The
// rule template grants the patient self-access, lets the registry contract
// verify and append references, and keys grantee access to active
// Permission or EmergencyAccess objects on the ledger.
func BuildPolicy(identity interfaces.PrincipalID, contract interfaces.ContractAddress, threshold int) (*Policy, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("%w: threshold must be at least 1, got %d", interfaces.ErrPolicy, threshold)
	}
	if identity.IsZero() {
		return nil, fmt.Errorf("%w: zero identity", interfaces.ErrPolicy)
	}

	return &Policy{
		Identity:  identity,
		Contract:  contract,
		Threshold: threshold,
		Rules: []PolicyRule{
			{
				Principal:   identity.String(),
				Permissions: []string{"read", "append"},
			},
			{
				Principal:   contract.String(),
				Permissions: []string{"verify", "append"},
			},
			{
				Principal:   "*",
				Permissions: []string{"read"},
				Conditions:  []string{"active-permission", "active-emergency"},
			},
		},
		ComplianceTags: complianceTags,
	}, nil
}

// Digest returns the policy's binding hash. Shares are wrapped against it,
// so a share released under one policy cannot unwrap another's payload.
func (p *Policy) Digest() [32]byte {
	h := sha256.New()
	h.Write(p.Identity[:])
	h.Write(p.Contract[:])

	var thr [8]byte
	binary.BigEndian.PutUint64(thr[:], uint64(p.Threshold))
	h.Write(thr[:])

	for _, rule := range p.Rules {
		h.Write([]byte(rule.Principal))
		for _, perm := range rule.Permissions {
			h.Write([]byte(perm))
		}
		for _, cond := range rule.Conditions {
			h.Write([]byte(cond))
		}
	}
	for _, tag := range p.ComplianceTags {
		h.Write([]byte(tag))
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
