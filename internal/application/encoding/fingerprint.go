package encoding

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jababu3/chemprop/internal/intelligence/mpnn"
)

// fingerprintNamespace scopes engine fingerprints so they never collide
// with other name-based UUIDs.
var fingerprintNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/jababu3/chemprop/mpnn"))

// Fingerprint derives a stable identifier from an engine configuration.
// Engines built by mpnn.New from equal configs (seed included) have equal
// weights and therefore the same fingerprint.
func Fingerprint(cfg *mpnn.Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		// NaN or Inf in a float field
		data = []byte(fmt.Sprintf("%#v", *cfg))
	}
	return uuid.NewSHA1(fingerprintNamespace, data).String()
}
