package saga

import (
	"errors"
	"testing"
)

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&Template{Name: "custom", Steps: []StepDefinition{{Name: "only"}}})

	tpl, err := r.Get("custom")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(tpl.Steps) != 1 || tpl.Steps[0].Name != "only" {
		t.Errorf("template = %+v", tpl)
	}
	if !r.Has("custom") {
		t.Error("Has(custom) = false")
	}

	// Re-registering replaces.
	r.Register(&Template{Name: "custom", Steps: []StepDefinition{{Name: "a"}, {Name: "b"}}})
	tpl, _ = r.Get("custom")
	if len(tpl.Steps) != 2 {
		t.Errorf("steps after re-register = %d, want 2", len(tpl.Steps))
	}
}

func TestRegistryIgnoresNilAndUnnamed(t *testing.T) {
	r := NewRegistry()
	r.Register(nil)
	r.Register(&Template{})
	if len(r.Names()) != 0 {
		t.Errorf("names = %v, want empty", r.Names())
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	want := map[string]int{
		"standard-payment":   5,
		"fast-payment":       3,
		"high-value-payment": 6,
	}
	names := r.Names()
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for name, steps := range want {
		tpl, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if len(tpl.Steps) != steps {
			t.Errorf("%s steps = %d, want %d", name, len(tpl.Steps), steps)
		}
	}
}

func TestStandardPaymentShape(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	tpl, err := r.Get("standard-payment")
	if err != nil {
		t.Fatal(err)
	}

	first := tpl.Steps[0]
	if first.Name != "validate-payment" || first.Type != StepTypeValidation {
		t.Errorf("first step = %+v", first)
	}
	if first.CompensationEndpoint != "" {
		t.Error("validation should have no compensation endpoint")
	}

	last := tpl.Steps[len(tpl.Steps)-1]
	if last.Type != StepTypeNotification {
		t.Errorf("last step type = %s, want NOTIFICATION", last.Type)
	}

	// The money-moving steps must be reversible.
	for _, st := range tpl.Steps {
		if st.Type == StepTypeAccountAdapter || st.Type == StepTypeTransactionProcessing {
			if st.CompensationEndpoint == "" {
				t.Errorf("step %s has no compensation endpoint", st.Name)
			}
		}
	}
}

func TestHighValuePaymentScreeningInput(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	tpl, err := r.Get("high-value-payment")
	if err != nil {
		t.Fatal(err)
	}

	var screening *StepDefinition
	for i := range tpl.Steps {
		if tpl.Steps[i].Name == "fraud-screening" {
			screening = &tpl.Steps[i]
		}
	}
	if screening == nil {
		t.Fatal("fraud-screening step missing")
	}
	if screening.DefaultInput["screeningLevel"] != "enhanced" {
		t.Errorf("DefaultInput = %v", screening.DefaultInput)
	}
	if screening.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", screening.MaxRetries)
	}
}
