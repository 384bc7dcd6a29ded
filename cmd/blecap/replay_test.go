package main

import (
	"errors"
	"strings"

	"github.com/srg/blecap/internal/testutils"
)

func (s *CommandTestSuite) TestReplay_Pass() {
	// GOAL: Verify a matching scenario prints its transcript and passes
	//
	// TEST SCENARIO: Replay slider.yaml → transcript shows the read response, PASS verdict

	out, err := s.ExecuteCommand("replay", "testdata/slider.yaml")
	s.Require().NoError(err, "replay MUST succeed")

	s.Contains(out, "request 1 0a0c00")
	s.Contains(out, "  led user=40")
	s.Contains(out, "  tx 0b28")
	s.True(strings.HasSuffix(out, "PASS read slider (5 steps)\n"), "verdict MUST be the last line, got:\n%s", out)
}

func (s *CommandTestSuite) TestReplay_Quiet() {
	// GOAL: Verify --quiet suppresses the transcript
	//
	// TEST SCENARIO: Replay slider.yaml quietly → only the verdict is printed

	out, err := s.ExecuteCommand("replay", "--quiet", "--log-level", "error", "testdata/slider.yaml")
	s.Require().NoError(err, "replay MUST succeed")
	testutils.NewTextAsserter(s.T()).Assert(out, "PASS read slider (5 steps)\n")
}

func (s *CommandTestSuite) TestReplay_Mismatch() {
	// GOAL: Verify a failed expectation yields a diff and ErrReplayMismatch
	//
	// TEST SCENARIO: Expect 0b29 where the device answers 0b28 → unified diff, wrapped error

	out, err := s.ExecuteCommand("replay", "--quiet", "testdata/slider_mismatch.yaml")
	s.Require().Error(err, "replay MUST fail")
	s.True(errors.Is(err, ErrReplayMismatch), "error MUST wrap ErrReplayMismatch")
	s.Contains(err.Error(), "1 of 4 steps failed")

	s.Contains(out, "step 4 (expect) mismatch:")
	s.Contains(out, "-0b29")
	s.Contains(out, "+0b28")
	s.NotContains(out, "PASS")
}

func (s *CommandTestSuite) TestReplay_MissingFile() {
	// GOAL: Verify a missing scenario is reported as an error, not a mismatch
	//
	// TEST SCENARIO: Replay a nonexistent path → error that does not wrap ErrReplayMismatch

	_, err := s.ExecuteCommand("replay", "testdata/nope.yaml")
	s.Require().Error(err, "replay MUST fail")
	s.False(errors.Is(err, ErrReplayMismatch), "load failures MUST NOT look like mismatches")
}

func (s *CommandTestSuite) TestReplay_InvalidLogLevel() {
	// GOAL: Verify --log-level is validated before anything runs
	//
	// TEST SCENARIO: Pass --log-level chatty → error naming the allowed levels

	_, err := s.ExecuteCommand("replay", "--log-level", "chatty", "testdata/slider.yaml")
	s.Require().Error(err, "replay MUST fail")
	s.Contains(err.Error(), "invalid log level: chatty")
}
