package model

import "fmt"

// Outcome is the terminal result kind of processing one email.
type Outcome int

const (
	OutcomeUnprocessable Outcome = iota
	// OutcomeMissing is never produced by body extraction. Callers report it
	// when no conversation matches the reply key.
	OutcomeMissing
	OutcomeProcessed
	OutcomeError
)

var outcomeNames = map[Outcome]string{
	OutcomeUnprocessable: "unprocessable",
	OutcomeMissing:       "missing",
	OutcomeProcessed:     "processed",
	OutcomeError:         "error",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	if _, ok := outcomeNames[o]; !ok {
		return nil, fmt.Errorf("unknown outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	outcome, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = outcome
	return nil
}

// ParseOutcome converts the textual form back into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	for outcome, name := range outcomeNames {
		if name == s {
			return outcome, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// State is the last pipeline state a message reached. Failed messages keep
// the state they were in when processing stopped; the outcome tells why.
type State string

const (
	StateStart         State = "start"
	StateMimeSelected  State = "mime-selected"
	StateQuoteTrimmed  State = "quote-trimmed"
	StateReplyScrubbed State = "reply-scrubbed"
	StateProcessed     State = "processed"
)

// Result is produced exactly once per processed email.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	State     State   `json:"state"`
	MessageID string  `json:"message_id,omitempty"`
	Subject   string  `json:"subject,omitempty"`
	From      string  `json:"from,omitempty"`
	ReplyKey  string  `json:"reply_key,omitempty"`
	Body      string  `json:"body,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Err       error   `json:"-"`
}

// Processed reports whether the result carries a usable body.
func (r Result) Processed() bool {
	return r.Outcome == OutcomeProcessed
}
