package vatsim

import "time"

// Controller is one online position from the live data feed.
type Controller struct {
	CID       string
	Callsign  string
	Frequency string
	Name      string
}

// Member is the subset of the member record we read.
type Member struct {
	CID        string
	NameFirst  string
	NameLast   string
	Rating     int
	DivisionID string
}

// FullName joins the member's name parts, trimming absent components.
func (m *Member) FullName() string {
	switch {
	case m.NameFirst == "":
		return m.NameLast
	case m.NameLast == "":
		return m.NameFirst
	default:
		return m.NameFirst + " " + m.NameLast
	}
}

// SessionSummary aggregates a member's ATC sessions in a lookback window.
type SessionSummary struct {
	Hours       float64
	Sessions    int
	LastSession time.Time
}

// Controller rating identifiers as used by the network.
const (
	RatingInactive   = -1
	RatingSuspended  = 0
	RatingOBS        = 1
	RatingS1         = 2
	RatingS2         = 3
	RatingS3         = 4
	RatingC1         = 5
	RatingC3         = 7
	RatingI1         = 8
	RatingI3         = 10
	RatingSupervisor = 11
	RatingAdmin      = 12
)

var ratingLabels = map[int]string{
	RatingInactive:   "INAC",
	RatingSuspended:  "SUS",
	RatingOBS:        "OBS",
	RatingS1:         "S1",
	RatingS2:         "S2",
	RatingS3:         "S3",
	RatingC1:         "C1",
	6:                "C2",
	RatingC3:         "C3",
	RatingI1:         "I1",
	9:                "I2",
	RatingI3:         "I3",
	RatingSupervisor: "SUP",
	RatingAdmin:      "ADM",
}

// RatingLabel returns the short rating code for a rating identifier, or
// "UNK" for values outside the known table.
func RatingLabel(rating int) string {
	if label, ok := ratingLabels[rating]; ok {
		return label
	}
	return "UNK"
}
