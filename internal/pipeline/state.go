package pipeline

import (
	"encoding/json"
	"errors"
)

// Stage marks how far an invocation has progressed.
type Stage string

const (
	StageStart     Stage = "start"
	StageRetrieved Stage = "retrieved"
	StageGenerated Stage = "generated"
	StageFormatted Stage = "formatted"
)

func (s Stage) rank() int {
	switch s {
	case StageRetrieved:
		return 1
	case StageGenerated:
		return 2
	case StageFormatted:
		return 3
	default:
		return 0
	}
}

// State accumulates the outputs of one invocation. A field is meaningful only once Stage
// has reached the stage that sets it; Documents may legitimately be empty.
type State struct {
	Question        string
	Documents       string
	Answer          string
	FormattedOutput string
	Stage           Stage
}

func NewState(question string) State {
	return State{Question: question, Stage: StageStart}
}

func (s State) HasDocuments() bool       { return s.Stage.rank() >= StageRetrieved.rank() }
func (s State) HasAnswer() bool          { return s.Stage.rank() >= StageGenerated.rank() }
func (s State) HasFormattedOutput() bool { return s.Stage.rank() >= StageFormatted.rank() }

// Update is the partial result of one stage.
type Update struct {
	Stage Stage
	Value string
}

var errOutOfOrder = errors.New("stage update out of order")

// apply merges u into s. Updates must arrive in stage order and never touch earlier fields.
func (s *State) apply(u Update) error {
	if u.Stage.rank() != s.Stage.rank()+1 {
		return errOutOfOrder
	}
	switch u.Stage {
	case StageRetrieved:
		s.Documents = u.Value
	case StageGenerated:
		s.Answer = u.Value
	case StageFormatted:
		s.FormattedOutput = u.Value
	}
	s.Stage = u.Stage
	return nil
}

// fields returns the present fields keyed by their wire names.
func (s State) fields() map[string]string {
	out := map[string]string{"question": s.Question}
	if s.HasDocuments() {
		out["documents"] = s.Documents
	}
	if s.HasAnswer() {
		out["answer"] = s.Answer
	}
	if s.HasFormattedOutput() {
		out["formatted_output"] = s.FormattedOutput
	}
	return out
}

// MarshalJSON emits only the fields that have been set.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields())
}

// UnmarshalJSON infers Stage from which fields are present.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw struct {
		Question        string  `json:"question"`
		Documents       *string `json:"documents"`
		Answer          *string `json:"answer"`
		FormattedOutput *string `json:"formatted_output"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = NewState(raw.Question)
	for _, u := range []struct {
		stage Stage
		value *string
	}{
		{StageRetrieved, raw.Documents},
		{StageGenerated, raw.Answer},
		{StageFormatted, raw.FormattedOutput},
	} {
		if u.value == nil {
			break
		}
		if err := s.apply(Update{Stage: u.stage, Value: *u.value}); err != nil {
			return err
		}
	}
	return nil
}
