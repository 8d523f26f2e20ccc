package sim

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"time"
	"unicode"
	"unicode/utf8"
)

// Variant is the experiment arm a user is bucketed into.
type Variant string

const (
	Control   Variant = "control"
	Treatment Variant = "treatment"
)

// Variants lists both arms in reporting order.
var Variants = []Variant{Control, Treatment}

// maxUserIDLen bounds identifiers accepted by the assignment engine.
const maxUserIDLen = 256

// bucketModulus is the Mersenne prime 2^61-1 used to reduce digests to [0,1).
const bucketModulus = uint64(1)<<61 - 1

// UserAssignment is the immutable record of one user's bucketing.
type UserAssignment struct {
	UserID    string
	Variant   Variant
	Bucket    float64   // uniform value in [0,1) the split threshold is applied to
	Digest    string    // hex MD5 of userID ":" salt
	ExposedAt time.Time // first exposure
}

// AssignmentEngine buckets users for one experiment salt.
// It holds no mutable state and is safe for concurrent use.
type AssignmentEngine struct {
	salt           string
	treatmentShare float64
}

// NewAssignmentEngine creates an engine from the experiment config.
func NewAssignmentEngine(cfg Config) (*AssignmentEngine, error) {
	if cfg.Experiment.Salt == "" {
		return nil, &ConfigurationError{Param: "experiment.salt", Constraint: "be non-empty"}
	}
	share := cfg.Experiment.TreatmentShare
	if !(share > 0 && share < 1) {
		return nil, &ConfigurationError{Param: "experiment.treatment_share", Constraint: "be within (0, 1)", Value: share}
	}
	return &AssignmentEngine{salt: cfg.Experiment.Salt, treatmentShare: share}, nil
}

// Assign buckets userID and stamps the first exposure time.
func (e *AssignmentEngine) Assign(userID string, exposedAt time.Time) (UserAssignment, error) {
	if err := ValidateUserID(userID); err != nil {
		return UserAssignment{}, err
	}
	sum := md5.Sum([]byte(userID + ":" + e.salt))
	bucket := bucketOf(sum)
	variant := Control
	if bucket < e.treatmentShare {
		variant = Treatment
	}
	return UserAssignment{
		UserID:    userID,
		Variant:   variant,
		Bucket:    bucket,
		Digest:    hex.EncodeToString(sum[:]),
		ExposedAt: exposedAt,
	}, nil
}

// Assign buckets userID with an even split. Pure: same inputs, same variant.
func Assign(userID, salt string) (Variant, error) {
	e := &AssignmentEngine{salt: salt, treatmentShare: 0.5}
	a, err := e.Assign(userID, time.Time{})
	if err != nil {
		return "", err
	}
	return a.Variant, nil
}

// ValidateUserID rejects empty, oversized, non-UTF-8 and whitespace-bearing identifiers.
func ValidateUserID(userID string) error {
	switch {
	case userID == "":
		return &InvalidIdentifierError{UserID: userID, Reason: "empty"}
	case len(userID) > maxUserIDLen:
		return &InvalidIdentifierError{UserID: truncateID(userID, 32), Reason: "longer than 256 bytes"}
	case !utf8.ValidString(userID):
		return &InvalidIdentifierError{UserID: userID, Reason: "not valid UTF-8"}
	}
	for _, r := range userID {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return &InvalidIdentifierError{UserID: userID, Reason: "contains whitespace or control characters"}
		}
	}
	return nil
}

// truncateID shortens id to at most n bytes without splitting a rune.
func truncateID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	for n > 0 && !utf8.RuneStart(id[n]) {
		n--
	}
	return id[:n] + "..."
}

func bucketOf(sum [md5.Size]byte) float64 {
	v := binary.BigEndian.Uint64(sum[:8]) % bucketModulus
	// v < 2^61; keep the top 53 bits so the quotient is exact and strictly below 1.
	return float64(v>>8) / float64(uint64(1)<<53)
}
