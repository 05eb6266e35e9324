package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// TestCase is one invocation of a decider self-test
type TestCase struct {
	Method    string `json:"method" yaml:"method"`
	Arguments []any  `json:"arguments,omitempty" yaml:"arguments"`
	Expect    any    `json:"expect,omitempty" yaml:"expect"` // Nil skips the comparison
}

// TestStep records one stage of a self-test
type TestStep struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TestReport is the outcome of RunSelfTest
type TestReport struct {
	Decider    string     `json:"decider"`
	Parameter  string     `json:"parameter,omitempty"`
	Passed     bool       `json:"passed"`
	Steps      []TestStep `json:"steps"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// RunSelfTest exercises a decider end to end: install, start, warmup, every
// case, cooldown and stop. The instance is always stopped, even after a
// failed case.
func RunSelfTest(ctx context.Context, ctrl Controller, parameter string, cases []TestCase) *TestReport {
	report := &TestReport{
		Decider:   ctrl.Name(),
		Parameter: parameter,
		Passed:    true,
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	step := func(name string, fn func() (any, error)) bool {
		start := time.Now()
		res, err := fn()
		s := TestStep{Name: name, Duration: time.Since(start), Result: res}
		if err != nil {
			s.Error = err.Error()
			report.Passed = false
		}
		report.Steps = append(report.Steps, s)
		return err == nil
	}

	if !step("install", func() (any, error) { return nil, ctrl.Install(ctx) }) {
		return report
	}

	rc, err := ctrl.RunConfiguration(parameter)
	if !step("configure", func() (any, error) { return nil, err }) {
		return report
	}

	var instanceID string
	ok := step("start", func() (any, error) {
		inst, err := ctrl.Start(ctx, rc)
		instanceID = inst.ID
		return nil, err
	})
	if instanceID != "" {
		defer step("stop", func() (any, error) { return nil, ctrl.Stop(context.WithoutCancel(ctx), instanceID) })
	}
	if !ok {
		return report
	}

	api, err := ctrl.CreateAPI(instanceID)
	if !step("create_api", func() (any, error) { return nil, err }) {
		return report
	}

	if !step("warmup", func() (any, error) { return nil, api.Warmup(ctx, parameter) }) {
		return report
	}

	for i, tc := range cases {
		step(fmt.Sprintf("invoke %d %s", i+1, tc.Method), func() (any, error) {
			if err := ctrl.Acquire(instanceID); err != nil {
				return nil, err
			}
			defer func() { _ = ctrl.Release(instanceID) }()

			res, err := api.Invoke(ctx, Call{Method: tc.Method, Arguments: tc.Arguments})
			if err != nil {
				return nil, err
			}
			if tc.Expect != nil && !sameJSON(tc.Expect, res) {
				return res, fmt.Errorf("expected %v, got %v", tc.Expect, res)
			}
			return res, nil
		})
	}

	step("cooldown", func() (any, error) { return nil, api.Cooldown(ctx, parameter) })
	return report
}

// sameJSON compares values by their JSON form, so 42 and 42.0 are equal
func sameJSON(a, b any) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return reflect.DeepEqual(na, nb)
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(data, &out)
	return out, err
}
