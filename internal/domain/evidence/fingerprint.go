package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint identifies one processing outcome: the SHA-256 over the
// content digest, declared type, case number, and analyzer profile
// version. Exactly these inputs and nothing else affect it, so equal
// inputs always share cached results and a rule-set upgrade invalidates
// them.
func Fingerprint(contentDigest string, declaredType Type, caseNumber, profileVersion string) string {
	// Length-prefixed fields keep the encoding injective.
	material := fmt.Sprintf("%d:%s|%d:%s|%d:%s|%d:%s",
		len(contentDigest), contentDigest,
		len(declaredType), declaredType,
		len(caseNumber), caseNumber,
		len(profileVersion), profileVersion,
	)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
