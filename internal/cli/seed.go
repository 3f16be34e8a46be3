package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/platform"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML document accepted by `agentctl seed`. String values may
// reference environment variables as ${NAME}.
type Seed struct {
	Agent       SeedAgent        `yaml:"agent"`
	Connections []SeedConnection `yaml:"connections"`
	Knowledge   []SeedKnowledge  `yaml:"knowledge"`
}

type SeedAgent struct {
	ID                   uint64   `yaml:"id"`
	Name                 string   `yaml:"name"`
	SystemPrompt         string   `yaml:"system_prompt"`
	Model                string   `yaml:"model"`
	Temperature          *float64 `yaml:"temperature"`
	AutoReplyEnabled     *bool    `yaml:"auto_reply_enabled"`
	ResponseDelaySeconds int      `yaml:"response_delay_seconds"`
}

type SeedConnection struct {
	Platform    string `yaml:"platform"`
	PageID      string `yaml:"page_id"`
	PageName    string `yaml:"page_name"`
	AccessToken string `yaml:"access_token"`
}

// SeedKnowledge carries inline content or a path relative to the seed file.
type SeedKnowledge struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Content string `yaml:"content"`
	Path    string `yaml:"path"`
}

// ParseSeed decodes and validates a seed document. Unknown keys are rejected.
func ParseSeed(data []byte) (*Seed, error) {
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)

	var s Seed
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Seed) agent() *agent.Agent {
	a := &agent.Agent{
		ID:                   s.Agent.ID,
		Name:                 s.Agent.Name,
		SystemPrompt:         s.Agent.SystemPrompt,
		Model:                s.Agent.Model,
		Temperature:          0.7,
		AutoReplyEnabled:     true,
		ResponseDelaySeconds: s.Agent.ResponseDelaySeconds,
	}
	if s.Agent.Temperature != nil {
		a.Temperature = *s.Agent.Temperature
	}
	if s.Agent.AutoReplyEnabled != nil {
		a.AutoReplyEnabled = *s.Agent.AutoReplyEnabled
	}
	return a
}

func (s *Seed) validate() error {
	if err := s.agent().Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	for i, c := range s.Connections {
		if _, ok := platform.ParseKind(c.Platform); !ok {
			return fmt.Errorf("connections[%d]: unknown platform %q", i, c.Platform)
		}
		if strings.TrimSpace(c.PageID) == "" || strings.TrimSpace(c.AccessToken) == "" {
			return fmt.Errorf("connections[%d]: page_id and access_token are required", i)
		}
	}
	for i, k := range s.Knowledge {
		if strings.TrimSpace(k.Name) == "" {
			return fmt.Errorf("knowledge[%d]: name is required", i)
		}
		if (k.Content == "") == (k.Path == "") {
			return fmt.Errorf("knowledge[%d]: exactly one of content or path is required", i)
		}
	}
	return nil
}

// SeedResult counts what ApplySeed wrote.
type SeedResult struct {
	AgentID     uint64
	Created     bool
	Connections int
	Knowledge   int
}

// ApplySeed writes the seed through repo. An agent id in the seed updates that
// agent; otherwise a new agent is created. Knowledge paths resolve against baseDir.
func ApplySeed(ctx context.Context, repo *agent.Repo, s *Seed, baseDir string) (SeedResult, error) {
	var res SeedResult
	a := s.agent()
	if a.ID != 0 {
		if err := repo.UpdateAgent(ctx, a); err != nil {
			return res, fmt.Errorf("update agent %d: %w", a.ID, err)
		}
	} else {
		if err := repo.CreateAgent(ctx, a); err != nil {
			return res, fmt.Errorf("create agent: %w", err)
		}
		res.Created = true
	}
	res.AgentID = a.ID

	for _, c := range s.Connections {
		kind, _ := platform.ParseKind(c.Platform)
		if _, err := repo.UpsertConnection(ctx, &agent.PlatformConnection{
			AgentID:     a.ID,
			Platform:    kind,
			PageID:      strings.TrimSpace(c.PageID),
			PageName:    c.PageName,
			AccessToken: strings.TrimSpace(c.AccessToken),
		}); err != nil {
			return res, fmt.Errorf("connection %s/%s: %w", kind, c.PageID, err)
		}
		res.Connections++
	}

	for _, k := range s.Knowledge {
		content := k.Content
		if k.Path != "" {
			p := k.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			b, err := os.ReadFile(p)
			if err != nil {
				return res, fmt.Errorf("knowledge %s: %w", k.Name, err)
			}
			content = string(b)
		}
		if content == "" {
			return res, fmt.Errorf("knowledge %s: empty content", k.Name)
		}
		if err := repo.CreateKnowledgeFile(ctx, &agent.KnowledgeFile{
			AgentID:     a.ID,
			FileName:    k.Name,
			FileType:    k.Type,
			FileContent: content,
			FileSize:    int64(len(content)),
		}); err != nil {
			return res, fmt.Errorf("knowledge %s: %w", k.Name, err)
		}
		res.Knowledge++
	}
	return res, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load an agent, its page connections and knowledge files from YAML",
	Long: `Load an agent, its page connections and knowledge files from a YAML file.

Example file:
  agent:
    name: Shop assistant
    model: openai/gpt-4o-mini
    system_prompt: You answer questions about our shop.
    temperature: 0.4
  connections:
    - platform: facebook
      page_id: "1234567890"
      access_token: ${FB_PAGE_TOKEN}
  knowledge:
    - name: faq.md
      path: docs/faq.md`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	s, err := ParseSeed(data)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := ApplySeed(ctx, a.Agents, s, filepath.Dir(args[0]))
	if err != nil {
		return err
	}
	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s agent %d: %d connection(s), %d knowledge file(s).\n",
		verb, res.AgentID, res.Connections, res.Knowledge)
	return nil
}
