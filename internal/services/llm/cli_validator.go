package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// cliValidator drives a locally installed claude CLI in print mode,
// piping the prompt through stdin. Used with a subscription login where
// no API key is available. Images are not supported over this path and
// are silently skipped.
type cliValidator struct {
	command string
	args    []string
	model   string
	timeout time.Duration
	logger  arbor.ILogger
}

func newCLIValidator(config *common.Config, logger arbor.ILogger) (*cliValidator, error) {
	fields := strings.Fields(config.AI.CLICommand)
	if len(fields) == 0 {
		fields = []string{"claude"}
	}

	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("claude CLI %q not found in PATH: %w", fields[0], err)
	}

	return &cliValidator{
		command: path,
		args:    fields[1:],
		model:   config.Claude.Model,
		timeout: common.ParseDurationOr(config.Claude.Timeout, defaultClaudeTimeout),
		logger:  logger,
	}, nil
}

func (v *cliValidator) Name() string {
	return ProviderClaudeCLI
}

func (v *cliValidator) Validate(ctx context.Context, articulum string, listings []models.AIListing, useImages bool) (*models.AIVerdict, error) {
	listingsJSON, err := buildListingsJSON(listings)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize listings: %w", err)
	}

	prompt := buildInstruction(articulum, false) + "\n\nListings:\n" + listingsJSON

	args := append([]string{}, v.args...)
	args = append(args, "-p")
	if v.model != "" {
		args = append(args, "--model", v.model)
	}

	runCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, v.command, args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, providerErr(ProviderClaudeCLI, fmt.Errorf("CLI failed: %w (stderr: %s)", err, truncateForLog(stderr.String(), 300)))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return nil, providerErr(ProviderClaudeCLI, fmt.Errorf("empty CLI output"))
	}

	verdict, err := parseVerdict(output)
	if err != nil {
		return nil, providerErr(ProviderClaudeCLI, err)
	}

	v.logger.Debug().
		Str("articulum", articulum).
		Int("listings", len(listings)).
		Int("passed", len(verdict.PassedIDs)).
		Dur("elapsed", time.Since(start)).
		Msg("Claude CLI validation verdict")

	return verdict, nil
}
