// ABOUTME: Interactive setup for convertbot
// ABOUTME: Prompts for Matrix and backend credentials and writes a TOML config file

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/2389/convertbot/internal/config"
)

// setupAnswers holds what runInit collected.
type setupAnswers struct {
	Homeserver  string
	Username    string
	Password    string
	Encryption  bool
	RecoveryKey string
	APIKey      string
	Prefix      string
}

func runInit(in io.Reader, out io.Writer) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	fmt.Fprintln(out, "    Interactive Setup")
	fmt.Fprintln(out, "    -----------------")
	fmt.Fprintln(out)

	configPath := config.DefaultPath()
	reader := bufio.NewReader(in)

	prompt := func(label, fallback string) string {
		green.Fprint(out, "    ▶ ")
		if fallback != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, fallback)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return fallback
		}
		return answer
	}

	if _, err := os.Stat(configPath); err == nil {
		yellow.Fprintf(out, "    Config already exists at %s\n", configPath)
		fmt.Fprint(out, "    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
		fmt.Fprintln(out)
	}

	answers := setupAnswers{
		Homeserver: prompt("Matrix homeserver URL", "https://matrix.org"),
		Username:   prompt("Matrix username", ""),
		Password:   prompt("Matrix password", ""),
	}
	answers.Encryption = strings.HasPrefix(strings.ToLower(prompt("Enable end-to-end encryption (y/n)", "n")), "y")
	if answers.Encryption {
		answers.RecoveryKey = prompt("Matrix recovery key (optional)", "")
	}
	answers.APIKey = prompt("Cloudmersive API key (blank to use CLOUDMERSIVE_API_KEY)", "")
	answers.Prefix = prompt("Command prefix", "!")

	rendered, err := renderConfig(answers)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(rendered), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintln(out)
	green.Fprintf(out, "    ✓ Config written to %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "    Next steps:")
	fmt.Fprintln(out, "    1. Run: convertbot")
	fmt.Fprintln(out)
	return nil
}

// initFile is the subset of config.Config that init writes.
type initFile struct {
	Matrix struct {
		Homeserver   string   `toml:"homeserver"`
		Username     string   `toml:"username"`
		Password     string   `toml:"password"`
		Encryption   bool     `toml:"encryption"`
		RecoveryKey  string   `toml:"recovery_key,omitempty"`
		AllowedRooms []string `toml:"allowed_rooms"`
	} `toml:"matrix"`
	Backend struct {
		APIKey  string `toml:"api_key"`
		Timeout string `toml:"timeout"`
	} `toml:"backend"`
	Bot struct {
		CommandPrefix string `toml:"command_prefix"`
		IdleReply     string `toml:"idle_reply"`
	} `toml:"bot"`
	Logging struct {
		Level string `toml:"level"`
	} `toml:"logging"`
}

const initHeader = `# convertbot configuration
# Generated by convertbot init
#
# matrix.allowed_rooms: only respond in these rooms (empty = all joined rooms)
# bot.idle_reply: "ignore" or "remind" for text outside a conversion

`

// renderConfig produces a TOML config that config.Parse accepts.
func renderConfig(a setupAnswers) (string, error) {
	var f initFile
	f.Matrix.Homeserver = a.Homeserver
	f.Matrix.Username = a.Username
	f.Matrix.Password = a.Password
	f.Matrix.Encryption = a.Encryption
	f.Matrix.RecoveryKey = a.RecoveryKey
	f.Matrix.AllowedRooms = []string{}
	f.Backend.APIKey = a.APIKey
	if f.Backend.APIKey == "" {
		f.Backend.APIKey = "${CLOUDMERSIVE_API_KEY}"
	}
	f.Backend.Timeout = "60s"
	f.Bot.CommandPrefix = a.Prefix
	f.Bot.IdleReply = "ignore"
	f.Logging.Level = "info"

	var b strings.Builder
	b.WriteString(initHeader)
	if err := toml.NewEncoder(&b).Encode(f); err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return b.String(), nil
}
