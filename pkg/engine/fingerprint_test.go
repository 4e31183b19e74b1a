package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

func fingerprintRequest() domain.EvaluationRequest {
	return domain.EvaluationRequest{
		User: domain.User{
			ID:         "u-1",
			Email:      "dana@example.com",
			Department: "finance",
			Groups:     []string{"eu", "contractors"},
		},
		Action:   "upload",
		Resource: domain.Resource{ID: "r-1", Type: "document", Category: "customer_data"},
		Context:  domain.RequestContext{RiskTier: "high", Fields: map[string]any{"mfa": true, "noise": "x"}},
	}
}

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	req := fingerprintRequest()
	assert.Equal(t, Fingerprint(req, []string{"mfa"}), Fingerprint(req, []string{"mfa"}))
}

func TestFingerprint_GroupOrderDoesNotMatter(t *testing.T) {
	a := fingerprintRequest()
	b := fingerprintRequest()
	b.User.Groups = []string{"contractors", "eu"}
	assert.Equal(t, Fingerprint(a, nil), Fingerprint(b, nil))
}

func TestFingerprint_UnconfiguredContextFieldsAreIgnored(t *testing.T) {
	a := fingerprintRequest()
	b := fingerprintRequest()
	b.Context.Fields = map[string]any{"mfa": true, "noise": "completely different"}
	assert.Equal(t, Fingerprint(a, []string{"mfa"}), Fingerprint(b, []string{"mfa"}))
}

func TestFingerprint_ConfiguredContextFieldsParticipate(t *testing.T) {
	a := fingerprintRequest()
	b := fingerprintRequest()
	b.Context.Fields = map[string]any{"mfa": false, "noise": "x"}
	assert.NotEqual(t, Fingerprint(a, []string{"mfa"}), Fingerprint(b, []string{"mfa"}))
}

func TestFingerprint_TimestampIsExcluded(t *testing.T) {
	a := fingerprintRequest()
	b := fingerprintRequest()
	b.Context.Timestamp = b.Context.Timestamp.Add(1000)
	b.RequestID = "different-request-id"
	assert.Equal(t, Fingerprint(a, nil), Fingerprint(b, nil))
}

func TestFingerprint_DistinguishesIdentityActionResource(t *testing.T) {
	base := fingerprintRequest()

	other := fingerprintRequest()
	other.User.ID = "u-2"
	assert.NotEqual(t, Fingerprint(base, nil), Fingerprint(other, nil))

	other = fingerprintRequest()
	other.Action = "download"
	assert.NotEqual(t, Fingerprint(base, nil), Fingerprint(other, nil))

	other = fingerprintRequest()
	other.Resource.ID = "r-2"
	assert.NotEqual(t, Fingerprint(base, nil), Fingerprint(other, nil))
}

// Adjacent fields must not collide: ("ab","c") vs ("a","bc").
func TestFingerprint_FieldBoundaries(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := domain.EvaluationRequest{
			User:   domain.User{ID: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "idA")},
			Action: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "actionA"),
		}
		b := domain.EvaluationRequest{
			User:   domain.User{ID: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "idB")},
			Action: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "actionB"),
		}
		if a.User.ID == b.User.ID && a.Action == b.Action {
			assert.Equal(t, Fingerprint(a, nil), Fingerprint(b, nil))
		} else {
			assert.NotEqual(t, Fingerprint(a, nil), Fingerprint(b, nil))
		}
	})
}
