// Package enrich derives post-hoc insight from finished sessions: task
// classification, outcome signals, loop detection, a git diff snapshot
// and a composite quality score, stored per canonical session ref.
package enrich

import "time"

// Source values for an enrichment record.
const (
	SourceHook       = "hook"
	SourceTranscript = "transcript"
)

// Feedback values for manual annotations.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
	FeedbackNeutral  = "neutral"
)

// Task types produced by the auto-tagger.
const (
	TaskFeature  = "feature"
	TaskBugfix   = "bugfix"
	TaskRefactor = "refactor"
	TaskDocs     = "docs"
	TaskTest     = "test"
	TaskChore    = "chore"
	TaskOther    = "other"
)

// Classification thresholds for the quality score.
const (
	ClassExcellent = "excellent"
	ClassGood      = "good"
	ClassFair      = "fair"
	ClassPoor      = "poor"
)

// CanonicalRef picks the stable key for enrichments: the correlation id
// when the host minted one, else the hook session id, else the
// transcript id, each prefixed so the namespace stays unambiguous.
func CanonicalRef(correlationID, hookSessionID, transcriptID string) string {
	switch {
	case correlationID != "":
		return correlationID
	case hookSessionID != "":
		return "corr:" + hookSessionID
	case transcriptID != "":
		return "corr:" + transcriptID
	}
	return ""
}

// Enrichment is the composite result of the pipeline for one session.
type Enrichment struct {
	Ref            string        `json:"ref"`
	SessionID      string        `json:"sessionId,omitempty"`
	Source         string        `json:"source"`
	ComputedAt     time.Time     `json:"computedAt"`
	TaskType       string        `json:"taskType"`
	LanguageTags   []string      `json:"languageTags,omitempty"`
	Outcome        Outcome       `json:"outcome"`
	Loops          LoopReport    `json:"loops"`
	Diff           *DiffSnapshot `json:"diff,omitempty"`
	Score          int           `json:"score"`
	Classification string        `json:"classification"`
}

// Outcome aggregates success and failure signals from the usage stream.
type Outcome struct {
	ToolCalls    int           `json:"toolCalls"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	TestRuns     int           `json:"testRuns"`
	TestsPassed  int           `json:"testsPassed"`
	TestsFailed  int           `json:"testsFailed"`
	NonZeroExits int           `json:"nonZeroExits"`
	EditChurn    ChurnEstimate `json:"editChurn"`
}

// ChurnEstimate approximates how much text the session's Edit and Write
// calls touched, measured from the tool inputs rather than git history.
type ChurnEstimate struct {
	Files        int `json:"files"`
	LinesAdded   int `json:"linesAdded"`
	LinesRemoved int `json:"linesRemoved"`
}

// LoopWindow is one suspicious stretch of the usage sequence. Start and
// End index into the chronological usage list, inclusive.
type LoopWindow struct {
	Kind  string `json:"kind"` // identical_input, oscillation, permission
	Tool  string `json:"tool,omitempty"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Count int    `json:"count"`
}

// LoopReport is the loop-detection verdict.
type LoopReport struct {
	Detected bool         `json:"detected"`
	Severity string       `json:"severity,omitempty"` // low, medium, high
	Windows  []LoopWindow `json:"windows,omitempty"`
}

// FileChange is one file's churn between the session's start and end.
type FileChange struct {
	Path       string `json:"path"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// DiffSnapshot captures what the session changed in the working repo.
type DiffSnapshot struct {
	StartHead        string       `json:"startHead,omitempty"`
	EndHead          string       `json:"endHead,omitempty"`
	CommitCount      int          `json:"commitCount"`
	FilesChanged     []FileChange `json:"filesChanged,omitempty"`
	Insertions       int          `json:"insertions"`
	Deletions        int          `json:"deletions"`
	UncommittedFiles int          `json:"uncommittedFiles"`
}

// Annotation is user-supplied feedback attached to a canonical ref.
type Annotation struct {
	Feedback       string    `json:"feedback,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Rating         int       `json:"rating,omitempty"`
	WorkflowStatus string    `json:"workflowStatus,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
