package build

import "fmt"

// Stage names one step of producing an image.
type Stage string

// Stages in the order they run.
const (
	StageValidate        Stage = "validate"
	StageCreate          Stage = "create"
	StageAttach          Stage = "attach"
	StageOwnership       Stage = "ownership"
	StageClean           Stage = "clean"
	StageCatalog         Stage = "catalog"
	StageDiff            Stage = "diff"
	StageCopyDiff        Stage = "copy-diff"
	StageApply           Stage = "apply"
	StagePostMaintenance Stage = "post-maintenance"
	StageVersion         Stage = "version"
	StageRename          Stage = "rename"
	StageBless           Stage = "bless"
	StageUnmount         Stage = "unmount"
	StageConvert         Stage = "convert"
	StageRemoveSparse    Stage = "remove-sparse"
	StageScan            Stage = "scan"
)

var exitCodes = map[Stage]int{
	StageValidate:        10,
	StageCreate:          11,
	StageAttach:          12,
	StageOwnership:       13,
	StageClean:           14,
	StageCatalog:         15,
	StageDiff:            16,
	StageCopyDiff:        17,
	StageApply:           17,
	StagePostMaintenance: 18,
	StageVersion:         19,
	StageRename:          20,
	StageBless:           21,
	StageUnmount:         22,
	StageConvert:         23,
	StageRemoveSparse:    23,
	StageScan:            23,
}

// ExitCode is the process exit status reported when a single image fails at s.
func (s Stage) ExitCode() int {
	if code, ok := exitCodes[s]; ok {
		return code
	}
	return 1
}

// State is the lifecycle state an image reaches once a stage completes.
type State string

const (
	StateCreated          State = "created"
	StateMounted          State = "mounted"
	StateOwnershipEnabled State = "ownership-enabled"
	StateCleaned          State = "cleaned"
	StateSynced           State = "synced"
	StatePostMaintained   State = "post-maintained"
	StateLabeled          State = "labeled"
	StateBlessed          State = "blessed"
	StateUnmounted        State = "unmounted"
	StateConverted        State = "converted"
	StateArtifactScanned  State = "artifact-scanned"
	StateDone             State = "done"
)

// Outcome is the result of producing one image: an artifact, or the stage that failed.
type Outcome struct {
	Image    string
	State    State
	Stage    Stage
	Artifact string
	Err      error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

func (o Outcome) String() string {
	if o.Succeeded() {
		return fmt.Sprintf("%s: %s", o.Image, o.Artifact)
	}
	return fmt.Sprintf("%s: failed at %s: %v", o.Image, o.Stage, o.Err)
}

// Summary collects the outcomes of one run.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Outcomes  []Outcome
}

// Failed returns the outcomes of images that did not produce an artifact.
func (s Summary) Failed() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if !o.Succeeded() {
			failed = append(failed, o)
		}
	}
	return failed
}
