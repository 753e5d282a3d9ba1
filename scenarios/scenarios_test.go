package scenarios

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotalabs/rota/registry"
	"github.com/rotalabs/rota/types"
)

const scenarioDir = "testdata"

func TestScenarios(t *testing.T) {
	files := findYAMLFiles(t, scenarioDir)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			runScenario(t, file)
		})
	}
}

func findYAMLFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".yaml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk scenario directory %s: %v", root, err)
	}
	if len(files) == 0 {
		t.Fatalf("no scenario files found in %s", root)
	}
	return files
}

func runScenario(t *testing.T, path string) {
	t.Helper()

	scenario, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("failed to load scenario: %v", err)
	}
	t.Log(scenario.Description)

	reg, err := registry.New(registry.Config{
		GenesisTime:  scenario.GenesisTime,
		SlotDuration: scenario.SlotDuration,
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	for _, entry := range scenario.Authorities {
		if err := reg.Register(toAuthority(entry), false); err != nil {
			t.Fatalf("failed to register %q: %v", entry.Identifier, err)
		}
	}

	for i, step := range scenario.Steps {
		if err := runStep(reg, scenario, step); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}
}

func runStep(reg *registry.Registry, scenario *Scenario, step Step) error {
	switch {
	case step.Register != nil:
		err := reg.Register(toAuthority(*step.Register), step.Overwrite)
		return matchError(err, step.ExpectError)

	case step.Deregister != "":
		err := reg.Deregister(step.Deregister)
		return matchError(err, step.ExpectError)

	case step.Update != nil:
		upd := registry.AuthorityUpdate{
			Weight:   step.Update.Weight,
			Active:   step.Update.Active,
			Metadata: step.Update.Metadata,
		}
		if step.Update.Secret != nil {
			upd.Secret = []byte(*step.Update.Secret)
		}
		err := reg.Update(step.Update.Identifier, upd)
		return matchError(err, step.ExpectError)

	case step.Propose != nil:
		timestamp := scenario.GenesisTime + step.Propose.Slot*scenario.SlotDuration
		block, err := reg.CreateBlock(step.Propose.Authority, step.Propose.Payload, timestamp, nil)
		if err != nil {
			return matchError(err, step.ExpectError)
		}
		if step.ExpectError != "" {
			return matchError(reg.SubmitBlock(block), step.ExpectError)
		}
		return reg.SubmitBlock(block)

	case step.ExpectLeaders != nil:
		for i, want := range step.ExpectLeaders.Leaders {
			slot := types.Slot(step.ExpectLeaders.FromSlot + uint64(i))
			leader, err := reg.AuthorityForSlot(slot)
			if err != nil {
				return err
			}
			if leader.Identifier != want {
				return fmt.Errorf("slot %d leader = %q, want %q", slot, leader.Identifier, want)
			}
		}
		return nil

	case step.ExpectLeaderErr != nil:
		_, err := reg.AuthorityForSlot(types.Slot(step.ExpectLeaderErr.Slot))
		return matchError(err, step.ExpectLeaderErr.Error)

	case step.ExpectHeadSlot != nil:
		if got := reg.HeadSlot(); got != types.Slot(*step.ExpectHeadSlot) {
			return fmt.Errorf("head slot = %d, want %d", got, *step.ExpectHeadSlot)
		}
		return nil

	case step.ExpectActive != nil:
		active := reg.ActiveAuthorities()
		if len(active) != len(step.ExpectActive) {
			return fmt.Errorf("active count = %d, want %d", len(active), len(step.ExpectActive))
		}
		for i, want := range step.ExpectActive {
			if active[i].Identifier != want {
				return fmt.Errorf("active[%d] = %q, want %q", i, active[i].Identifier, want)
			}
		}
		return nil

	case step.ValidateChain:
		return reg.ValidateChain()

	default:
		return fmt.Errorf("step has no action")
	}
}
