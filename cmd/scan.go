package cmd

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [dir]",
		Short: "Scan a directory for leaked credentials",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			findings, err := runScan(dir)
			if err != nil {
				fail(err)
			}
			if findings > 0 {
				os.Exit(1)
			}
		},
	}
}

// Finding is one suspected secret occurrence.
type Finding struct {
	Path string
	Line int
	Rule string
}

// secretScanner is the pluggable scan backend; the default is a small
// pattern walker so the command works without external tooling.
type secretScanner interface {
	Scan(dir string) ([]Finding, error)
}

var secretRules = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"telegram-bot-token", regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"discord-bot-token", regexp.MustCompile(`\b[MNO][A-Za-z\d_-]{23,25}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,}\b`)},
	{"aws-access-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"generic-api-key", regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token)["']?\s*[:=]\s*["'][A-Za-z0-9_\-]{20,}["']`)},
	{"private-key-block", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".iris":        true,
}

const maxScanFileSize = 1 << 20 // skip files over 1 MiB; secrets live in text

type patternScanner struct{}

func (patternScanner) Scan(dir string) ([]Finding, error) {
	var findings []Finding
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxScanFileSize {
			return nil
		}
		found, err := scanFile(path)
		if err != nil {
			return nil // unreadable files are not findings
		}
		findings = append(findings, found...)
		return nil
	})
	return findings, err
}

func scanFile(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.Contains(line, "\x00") {
			return findings, nil // binary content
		}
		for _, rule := range secretRules {
			if rule.pattern.MatchString(line) {
				findings = append(findings, Finding{Path: path, Line: lineNo, Rule: rule.name})
			}
		}
	}
	return findings, scanner.Err()
}

func runScan(dir string) (int, error) {
	var scanner secretScanner = patternScanner{}
	findings, err := scanner.Scan(dir)
	if err != nil {
		return 0, err
	}
	if len(findings) == 0 {
		fmt.Printf("Scanned %s: no secrets found.\n", dir)
		return 0, nil
	}
	for _, f := range findings {
		fmt.Printf("%s:%d  %s\n", f.Path, f.Line, f.Rule)
	}
	fmt.Printf("%d potential secret(s) found.\n", len(findings))
	return len(findings), nil
}
