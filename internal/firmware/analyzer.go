package firmware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/procrunner"
)

// Analyzer invokes the EMBA-style static firmware analyzer (stage B).
type Analyzer struct {
	cfg config.FirmwareConfig
}

// NewAnalyzer constructs an Analyzer bound to firmware configuration.
func NewAnalyzer(cfg config.FirmwareConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// logDir is where the analyzer writes its findings, named after the
// job's short ID and the device's IP.
func logDir(base, shortJobID, ip string) string {
	ipPart := ipToUnderscored(ip)
	return filepath.Join(base, fmt.Sprintf("device_%s_%s", shortJobID, ipPart))
}

func ipToUnderscored(ip string) string {
	out := []byte(ip)
	for i, b := range out {
		if b == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}

// Run executes the analyzer against fwPath and returns the log
// directory it populated. A non-zero exit yields a
// *jobserr.TransientToolFailure carrying the first 500 characters of
// stderr; a wall-clock timeout is reported the same way.
func (a *Analyzer) Run(ctx context.Context, fwPath, shortJobID, ip string, onProgress func(string)) (string, error) {
	dir := logDir(a.cfg.AnalyzerLogsDir, shortJobID, ip)

	if onProgress != nil {
		onProgress(fmt.Sprintf("starting analyzer scan on %s (%s)", ip, fwPath))
	}

	profile := a.cfg.GPTProfilePath
	if _, err := os.Stat(profile); err != nil {
		profile = a.cfg.DefaultProfilePath
		if _, err := os.Stat(profile); err != nil {
			profile = ""
		}
	}

	argv := []string{a.cfg.EmbaPath, "-f", fwPath, "-l", dir}
	if profile != "" {
		argv = append(argv, "-p", profile)
	}
	argv = append(argv, "-g")

	timeout := time.Duration(a.cfg.AnalyzerTimeoutSec) * time.Second
	env := []string{"GPT_OPTION=" + a.cfg.GPTLevel}
	res, err := procrunner.RunWithEnv(ctx, argv, env, timeout)
	if err != nil {
		return "", fmt.Errorf("%w: %v", jobserr.ErrExternalService, err)
	}

	if res.ExitCode == -1 {
		return "", &jobserr.TransientToolFailure{Tool: "emba", Err: fmt.Errorf("timed out after %ds", a.cfg.AnalyzerTimeoutSec)}
	}
	if res.ExitCode != 0 {
		return "", &jobserr.TransientToolFailure{Tool: "emba", Err: fmt.Errorf("exit code %d: %s", res.ExitCode, truncate(res.Stderr, 500))}
	}

	if onProgress != nil {
		onProgress(fmt.Sprintf("analyzer scan completed for %s", ip))
	}
	return dir, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
