package firmware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
)

// signals are the keywords that mark an analyzer log line as worth
// surfacing to the triage LLM.
var signals = []string{
	"CVE-", "CWE-", "hardcoded", "password", "credential",
	"backdoor", "CRITICAL", "HIGH", "outdated", "deprecated",
	"weak", "private key", "telnet", "default", "root:",
	"overflow", "injection", "unauthenticated", "cleartext",
	"insecure", "vulnerability", "exploit",
}

const noFindingsReport = `## Risk Score: N/A

## Executive Summary

No security-relevant findings were extracted from the analyzer's scan logs. This could indicate a clean firmware image, or that the firmware format was not fully supported by the analyzer's modules.

## Recommendation

Manual review of the firmware binary is recommended.`

// TriageResult is the outcome of stage C.
type TriageResult struct {
	Report        string
	RiskScore     *float64
	FindingsCount int
	CriticalCount int
	HighCount     int
}

// Triager extracts high-signal lines from analyzer logs and sends
// them to a local LLM for ranked risk reporting.
type Triager struct {
	cfg    config.FirmwareConfig
	client *http.Client
}

// NewTriager constructs a Triager bound to firmware configuration.
func NewTriager(cfg config.FirmwareConfig) *Triager {
	return &Triager{
		cfg: cfg,
		// Dial timeout bounds only the connect phase; client.Timeout
		// bounds the full request including generation, matching the
		// Python client's httpx.Timeout(timeout, connect=...) split.
		client: &http.Client{
			Timeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: time.Duration(cfg.LLMConnectSec) * time.Second}).DialContext,
			},
		},
	}
}

// ExtractFindings walks analyzerLogDir for .txt/.csv/.log files and
// collects deduplicated lines containing any signal keyword, capped
// at maxLines.
func ExtractFindings(analyzerLogDir string, maxLines int) []string {
	seen := make(map[string]bool)
	var hits []string

	exts := map[string]bool{".txt": true, ".csv": true, ".log": true}
	_ = filepath.Walk(analyzerLogDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if !exts[filepath.Ext(path)] {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if len(line) < 10 {
				continue
			}
			if !containsSignal(line) {
				continue
			}
			if seen[line] {
				continue
			}
			seen[line] = true
			hits = append(hits, line)
			if len(hits) >= maxLines {
				return filepath.SkipAll
			}
		}
		return nil
	})
	return hits
}

func containsSignal(line string) bool {
	lower := strings.ToLower(line)
	for _, s := range signals {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func buildPrompt(findings []string, ip, vendor, ports, mac string) string {
	var findingsBlock strings.Builder
	for _, f := range findings {
		findingsBlock.WriteString("- ")
		findingsBlock.WriteString(f)
		findingsBlock.WriteString("\n")
	}
	if vendor == "" {
		vendor = "Unknown"
	}
	if ports == "" {
		ports = "Unknown"
	}

	return fmt.Sprintf(`You are an IoT firmware security analyst. Analyse the findings below and:

1. Group by severity: Critical / High / Medium / Low
2. For Critical and High: explain root cause, realistic attack vector, and a concrete mitigation step (1-2 sentences each)
3. List any CVE IDs found and their CVSS scores if known
4. Give an overall risk score out of 10 with a one-line justification
5. Provide a brief executive summary (2-3 sentences) at the top

Device: %s at IP %s (MAC: %s)
Open ports: %s

Firmware analyzer findings (%d items):
%s

Output clean Markdown with headers per severity group.
Start with: ## Risk Score: X/10
Then: ## Executive Summary
Then severity groups: ## Critical, ## High, ## Medium, ## Low
End with: ## CVE Summary (table of CVE IDs found)
`, vendor, ip, mac, ports, len(findings), findingsBlock.String())
}

var riskScorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)risk\s+score[:\s]+(\d+(?:\.\d+)?)\s*/\s*10`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10`),
	regexp.MustCompile(`(?i)risk\s+score[:\s]+(\d+(?:\.\d+)?)`),
}

func parseRiskScore(report string) *float64 {
	for _, pattern := range riskScorePatterns {
		m := pattern.FindStringSubmatch(report)
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil || score < 0 || score > 10 {
			continue
		}
		return &score
	}
	return nil
}

var criticalWordPattern = regexp.MustCompile(`(?i)\bcritical\b`)
var highWordPattern = regexp.MustCompile(`(?i)\bhigh\b`)

func countSeverity(report string) (critical, high int) {
	return len(criticalWordPattern.FindAllString(report, -1)), len(highWordPattern.FindAllString(report, -1))
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (t *Triager) callLLM(ctx context.Context, prompt string) (string, error) {
	body := ollamaGenerateRequest{
		Model:  t.cfg.LLMModel,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.2,
			"num_predict": 4096,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("firmware: marshal triage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.LLMEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("firmware: build triage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", jobserr.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: llm endpoint returned status %d", jobserr.ErrExternalService, resp.StatusCode)
	}

	var decoded ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("firmware: decode triage response: %w", err)
	}
	if strings.TrimSpace(decoded.Response) == "" {
		return "", fmt.Errorf("%w: llm returned an empty response", jobserr.ErrExternalService)
	}
	return decoded.Response, nil
}

// Run performs the full stage C: extract findings from analyzerLogDir,
// then either return the canned zero-findings report or send the
// findings to the LLM and persist its report alongside the logs.
func (t *Triager) Run(ctx context.Context, analyzerLogDir, ip, vendor, ports, mac string, onProgress func(string)) (TriageResult, error) {
	if onProgress != nil {
		onProgress(fmt.Sprintf("extracting analyzer findings from %s", analyzerLogDir))
	}

	findings := ExtractFindings(analyzerLogDir, 120)
	if len(findings) == 0 {
		return TriageResult{Report: noFindingsReport}, nil
	}

	if onProgress != nil {
		onProgress(fmt.Sprintf("sending %d findings to %s for triage", len(findings), t.cfg.LLMModel))
	}

	prompt := buildPrompt(findings, ip, vendor, ports, mac)
	report, err := t.callLLM(ctx, prompt)
	if err != nil {
		return TriageResult{}, err
	}

	riskScore := parseRiskScore(report)
	critical, high := countSeverity(report)

	reportPath := filepath.Join(analyzerLogDir, "ai_triage.md")
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return TriageResult{}, fmt.Errorf("firmware: write triage report: %w", err)
	}

	if onProgress != nil {
		scoreStr := "unknown"
		if riskScore != nil {
			scoreStr = strconv.FormatFloat(*riskScore, 'f', 1, 64)
		}
		onProgress(fmt.Sprintf("triage complete — risk score %s/10, %d critical, %d high", scoreStr, critical, high))
	}

	return TriageResult{
		Report:        report,
		RiskScore:     riskScore,
		FindingsCount: len(findings),
		CriticalCount: critical,
		HighCount:     high,
	}, nil
}
