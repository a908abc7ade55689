package task

import (
	"context"
	"testing"
)

func okStrategy() Strategy {
	return StrategyFunc(func(ctx context.Context, t *Task) (*Result, error) {
		return NewResult(t.ID, "agent", ResultSuccess), nil
	})
}

// TestNewRegistry tests creating a new registry
func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	if registry == nil {
		t.Fatal("Expected registry to be created")
	}

	if len(registry.Types()) != 0 {
		t.Errorf("Expected empty registry, got %d types", len(registry.Types()))
	}
}

// TestRegisterStrategy tests registering and resolving a strategy
func TestRegisterStrategy(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(StrategyAuto, okStrategy()); err != nil {
		t.Fatalf("Failed to register strategy: %v", err)
	}

	s, err := registry.Resolve("  AUTO ")
	if err != nil {
		t.Fatalf("Expected tag to resolve case-insensitively: %v", err)
	}

	task := NewTask("demo")
	result, err := s.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Unexpected execute error: %v", err)
	}
	if result.TaskID != task.ID {
		t.Errorf("Expected result for task %s, got %s", task.ID, result.TaskID)
	}
}

// TestRegisterDuplicateStrategy tests registering a duplicate tag
func TestRegisterDuplicateStrategy(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(StrategyAuto, okStrategy()); err != nil {
		t.Fatalf("Failed to register strategy: %v", err)
	}

	if err := registry.Register("Auto", okStrategy()); err == nil {
		t.Error("Expected error when registering duplicate strategy")
	}

	if err := registry.Register(StrategyTesting, nil); err == nil {
		t.Error("Expected error when registering nil strategy")
	}
}

// TestResolveUnknownStrategy tests resolving a missing tag
func TestResolveUnknownStrategy(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.Resolve(StrategyResearch); err == nil {
		t.Error("Expected error for unregistered strategy")
	}
}

// TestRegistryTypesSorted tests that Types returns a stable order
func TestRegistryTypesSorted(t *testing.T) {
	registry := NewRegistry()
	for _, tag := range []StrategyType{StrategyTesting, StrategyAnalysis, StrategyCommand} {
		if err := registry.Register(tag, okStrategy()); err != nil {
			t.Fatalf("register %s: %v", tag, err)
		}
	}

	types := registry.Types()
	expected := []StrategyType{StrategyAnalysis, StrategyCommand, StrategyTesting}
	if len(types) != len(expected) {
		t.Fatalf("Expected %d types, got %d", len(expected), len(types))
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Errorf("Expected %s at %d, got %s", expected[i], i, types[i])
		}
	}
}
