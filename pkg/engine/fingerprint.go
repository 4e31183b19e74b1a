package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

// Fingerprint derives the stable cache key for a request: a hash of the
// user identity, action, resource identity, and the configured subset of
// decision-relevant context fields. Volatile fields such as the exact
// request timestamp are deliberately excluded so identical requests within
// the cache window coalesce.
func Fingerprint(req domain.EvaluationRequest, contextFields []string) string {
	h := sha256.New()

	writeField(h, req.User.ID)
	writeField(h, req.User.Email)
	writeField(h, req.User.Department)
	writeField(h, strings.Join(normalize(req.User.Groups), ","))
	writeField(h, req.Action)
	writeField(h, req.Resource.ID)
	writeField(h, req.Resource.Type)
	writeField(h, req.Resource.URL)
	writeField(h, req.Resource.Service)
	writeField(h, req.Resource.Category)
	writeField(h, req.Context.RiskTier)

	// Only the configured decision-affecting context fields participate.
	for _, key := range normalize(contextFields) {
		writeField(h, key)
		if v, ok := req.Context.Fields[key]; ok {
			writeField(h, fmt.Sprintf("%v", v))
		} else {
			writeField(h, "")
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeField appends a field followed by a null delimiter so adjacent
// fields cannot collide.
func writeField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func normalize(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
