package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure describes one scenario that did not pass.
type ScenarioFailure struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

// ScenarioFiles lists the *.yaml scenario files in dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir loads and runs every scenario in dir.
//
// A scenario that fails to load, fails to run, or fails an assertion is
// recorded as a failure; RunDir itself only fails if dir cannot be read.
func RunDir(dir string) (*SuiteResult, error) {
	paths, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(path, "", fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		result, err := Run(scenario)
		if err != nil {
			suite.fail(path, scenario.Name, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !result.Pass {
			suite.fail(path, scenario.Name, fmt.Sprintf("scenario assertions failed: %v", result.Errors))
			continue
		}

		suite.Passed++
	}
	return suite, nil
}

func (s *SuiteResult) fail(path, name, msg string) {
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{Path: path, Name: name, Error: msg})
}
