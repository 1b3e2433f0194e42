package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/progress"
)

// DefaultStart is the wall clock at launch when a scenario sets none.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultGuestID is the install's guest id when a scenario sets none.
const DefaultGuestID = "guest-1"

// Scenario defines a sync scenario: the tiers at launch, a sequence of
// steps and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the wall clock at launch.
	Start time.Time `yaml:"start,omitempty"`

	// GuestID is the install's guest id.
	GuestID string `yaml:"guest_id,omitempty"`

	// Session, if set, is signed in before the engine starts.
	Session *SessionSpec `yaml:"session,omitempty"`

	// Local and Remote are the documents each tier holds at launch, by owner id.
	Local  map[string]map[string]any `yaml:"local,omitempty"`
	Remote map[string]map[string]any `yaml:"remote,omitempty"`

	// RemoteDown and LocalDown start the tiers failed.
	RemoteDown bool `yaml:"remote_down,omitempty"`
	LocalDown  bool `yaml:"local_down,omitempty"`

	// Steps run in order after launch.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// SessionSpec is an account session as issued by the auth service.
type SessionSpec struct {
	AccountID string `yaml:"account_id"`
	Username  string `yaml:"username,omitempty"`
	Token     string `yaml:"token"`
}

// Step is one action in a scenario. Only the fields its kind uses are set.
type Step struct {
	Do string `yaml:"do"`

	Kind  string `yaml:"kind,omitempty"`
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Level string `yaml:"level,omitempty"`
	Date  string `yaml:"date,omitempty"`
	By    string `yaml:"by,omitempty"`

	AccountID string `yaml:"account_id,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Token     string `yaml:"token,omitempty"`

	Owner string         `yaml:"owner,omitempty"`
	Doc   map[string]any `yaml:"doc,omitempty"`

	// ExpectError, if set, must appear in the step's error.
	// Steps without it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step kinds.
const (
	StepAddHabit     = "add_habit"
	StepRenameHabit  = "rename_habit"
	StepUpgradeHabit = "upgrade_habit"
	StepDeleteHabit  = "delete_habit"
	StepCheckHabit   = "check_habit"
	StepRollover     = "rollover"
	StepSave         = "save"
	StepReset        = "reset"
	StepResync       = "resync"
	StepLogin        = "login"
	StepLogout       = "logout"
	StepRemoteDown   = "remote_down"
	StepRemoteUp     = "remote_up"
	StepLocalDown    = "local_down"
	StepLocalUp      = "local_up"
	StepAdvance      = "advance"
	StepRemoteWrite  = "remote_write"
	StepRestart      = "restart"
)

// Assertion validates the final state.
type Assertion struct {
	// Type is one of document, local, remote, absent, owner.
	Type string `yaml:"type"`

	// Owner is an owner id for local, remote and absent, and "kind:id"
	// for owner.
	Owner string `yaml:"owner,omitempty"`

	// Tier is "local" or "remote" (used by absent).
	Tier string `yaml:"tier,omitempty"`

	// Expect holds document fields to match (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument = "document"
	AssertLocal    = "local"
	AssertRemote   = "remote"
	AssertAbsent   = "absent"
	AssertOwner    = "owner"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML and fills in defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	if scenario.Start.IsZero() {
		scenario.Start = DefaultStart
	}
	if scenario.GuestID == "" {
		scenario.GuestID = DefaultGuestID
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Session != nil && (s.Session.AccountID == "" || s.Session.Token == "") {
		return fmt.Errorf("session: account_id and token are required")
	}

	for owner, doc := range s.Local {
		if _, err := buildDocument(doc); err != nil {
			return fmt.Errorf("local[%s]: %w", owner, err)
		}
	}
	for owner, doc := range s.Remote {
		if _, err := buildDocument(doc); err != nil {
			return fmt.Errorf("remote[%s]: %w", owner, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// validateStep checks that a step carries the fields its kind needs.
func validateStep(s Step) error {
	needKind := func() error {
		if !progress.Kind(s.Kind).Valid() {
			return fmt.Errorf("%s: kind must be good or bad, got %q", s.Do, s.Kind)
		}
		return nil
	}
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s: %s is required", s.Do, field)
		}
		return nil
	}

	switch s.Do {
	case StepAddHabit:
		return needKind()
	case StepRenameHabit:
		if err := needKind(); err != nil {
			return err
		}
		return need("id", s.ID)
	case StepUpgradeHabit:
		if err := needKind(); err != nil {
			return err
		}
		if err := need("id", s.ID); err != nil {
			return err
		}
		return need("level", s.Level)
	case StepDeleteHabit, StepCheckHabit:
		if err := needKind(); err != nil {
			return err
		}
		return need("id", s.ID)
	case StepRollover:
		return need("date", s.Date)
	case StepLogin:
		if err := need("account_id", s.AccountID); err != nil {
			return err
		}
		return need("token", s.Token)
	case StepAdvance:
		if _, err := time.ParseDuration(s.By); err != nil {
			return fmt.Errorf("advance: by: %w", err)
		}
		return nil
	case StepRemoteWrite:
		if err := need("owner", s.Owner); err != nil {
			return err
		}
		if _, err := buildDocument(s.Doc); err != nil {
			return fmt.Errorf("remote_write: doc: %w", err)
		}
		return nil
	case StepSave, StepReset, StepResync, StepLogout, StepRestart,
		StepRemoteDown, StepRemoteUp, StepLocalDown, StepLocalUp:
		return nil
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown step %q", s.Do)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertDocument:
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for document")
		}
	case AssertLocal, AssertRemote:
		if a.Owner == "" {
			return fmt.Errorf("owner is required for %s", a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for %s", a.Type)
		}
	case AssertAbsent:
		if a.Owner == "" {
			return fmt.Errorf("owner is required for absent")
		}
		if a.Tier != AssertLocal && a.Tier != AssertRemote {
			return fmt.Errorf("tier must be local or remote, got %q", a.Tier)
		}
	case AssertOwner:
		if a.Owner == "" {
			return fmt.Errorf("owner is required for owner")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// buildDocument lays partial over a fresh default document.
func buildDocument(partial map[string]any) (progress.Document, error) {
	base, err := json.Marshal(progress.Default(0))
	if err != nil {
		return progress.Document{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return progress.Document{}, err
	}
	for k, v := range partial {
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return progress.Document{}, err
	}
	return progress.Decode(data)
}
