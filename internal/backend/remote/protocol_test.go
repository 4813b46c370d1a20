package remote

import (
	"errors"
	"testing"

	"github.com/seantiz/qexec/internal/model"
)

func bellProgram() *Program {
	q0, q1 := model.Qubit(0), model.Qubit(1)
	return &Program{
		Qudits: []model.QuditRef{q0, q1},
		Instructions: []model.Instruction{
			{Name: "h", Targets: []model.QuditRef{q0}},
			{Name: "x", Controls: []model.QuditRef{q0}, Targets: []model.QuditRef{q1}},
		},
		Measured: []model.QuditRef{q0, q1},
	}
}

func TestJobRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     JobRequest
		wantErr bool
	}{
		{"named kernel", JobRequest{Kernel: "bell", Shots: 10}, false},
		{"program", JobRequest{Kernel: "bell", Shots: 10, Program: bellProgram()}, false},
		{"missing kernel", JobRequest{Shots: 10}, true},
		{"zero shots", JobRequest{Kernel: "bell"}, true},
		{"negative qpu", JobRequest{Kernel: "bell", Shots: 1, QPU: -1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidJob) {
				t.Errorf("error %v does not wrap ErrInvalidJob", err)
			}
		})
	}
}

func TestProgramValidateOperands(t *testing.T) {
	undeclared := bellProgram()
	undeclared.Instructions = append(undeclared.Instructions,
		model.Instruction{Name: "x", Targets: []model.QuditRef{model.Qubit(7)}})

	duplicate := bellProgram()
	duplicate.Qudits = append(duplicate.Qudits, model.Qubit(0))

	qutrit := bellProgram()
	qutrit.Qudits[1] = model.QuditRef{Levels: 3, ID: 1}

	badMeasure := bellProgram()
	badMeasure.Measured = []model.QuditRef{model.Qubit(5)}

	for name, p := range map[string]*Program{
		"undeclared target": undeclared,
		"duplicate qudit":   duplicate,
		"qutrit":            qutrit,
		"bad measurement":   badMeasure,
	} {
		if err := p.Validate(); !errors.Is(err, ErrInvalidJob) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidJob", name, err)
		}
	}

	if err := bellProgram().Validate(); err != nil {
		t.Errorf("bell program: Validate() = %v", err)
	}
}
