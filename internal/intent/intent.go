// Package intent classifies free-form utterances into a fixed set of coding
// intents, splitting compound utterances into independently answerable
// sub-queries.
package intent

// Intent is a classification label. It determines the response framing and
// whether retrieval is consulted.
type Intent string

const (
	Greeting        Intent = "greeting"
	CodeExplanation Intent = "code_explanation"
	CodeGeneration  Intent = "code_generation"
	DebugHelp       Intent = "debug_help"
	Optimization    Intent = "optimization"
	LearningPath    Intent = "learning_path"
	CodeReview      Intent = "code_review"
	Teaching        Intent = "teaching"
	NonCoding       Intent = "non_coding"
)

// known is the closed set of labels the classifier may emit.
var known = map[Intent]bool{
	Greeting:        true,
	CodeExplanation: true,
	CodeGeneration:  true,
	DebugHelp:       true,
	Optimization:    true,
	LearningPath:    true,
	CodeReview:      true,
	Teaching:        true,
	NonCoding:       true,
}

// Valid reports whether i is one of the fixed intent labels.
func (i Intent) Valid() bool {
	return known[i]
}

// ContextFree reports whether the intent skips retrieval entirely: greetings
// and non-coding chatter are answered without consulting the index.
func (i Intent) ContextFree() bool {
	return i == Greeting || i == NonCoding
}

// UsesHistory reports whether conversation history is included in the prompt
// for this intent. Greetings, redirects, and one-shot teaching answers are
// framed from the current query alone.
func (i Intent) UsesHistory() bool {
	switch i {
	case Greeting, NonCoding, Teaching:
		return false
	}
	return true
}

// SubQuery is one independently answerable piece of a raw utterance, paired
// with its classified intent. Ephemeral: produced by the classifier and
// consumed immediately by the orchestration loop.
type SubQuery struct {
	Text   string `json:"query"`
	Intent Intent `json:"intent"`
}
