package lunore_test

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image (distroless/alpine/scratch), got: %s", lastFrom)
	}
}

func TestDockerfileBinaryAndEntrypoint(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/lunore") {
		t.Error("Dockerfile should build ./cmd/lunore")
	}
	if !strings.Contains(content, "ENTRYPOINT") {
		t.Error("Dockerfile should contain ENTRYPOINT")
	}
	// distrolessにはcurlが無いため、healthcheckサブコマンドを使うこと
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

type composeFile struct {
	Services map[string]struct {
		Image    string   `yaml:"image"`
		Command  []string `yaml:"command"`
		Networks []string `yaml:"networks"`
	} `yaml:"services"`
	Networks map[string]*struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

func loadCompose(t *testing.T) composeFile {
	t.Helper()
	var c composeFile
	if err := yaml.Unmarshal([]byte(readFile(t, "docker-compose.yml")), &c); err != nil {
		t.Fatalf("docker-compose.yml is not valid YAML: %v", err)
	}
	return c
}

func TestDockerComposeServices(t *testing.T) {
	c := loadCompose(t)

	for _, svc := range []string{"api", "worker", "migrate", "db", "rabbitmq"} {
		if _, ok := c.Services[svc]; !ok {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}

	if img := c.Services["db"].Image; !strings.HasPrefix(img, "postgres:") {
		t.Errorf("db image = %q, want PostgreSQL", img)
	}

	commands := map[string]string{"api": "serve", "worker": "worker", "migrate": "migrate"}
	for svc, want := range commands {
		cmd := c.Services[svc].Command
		if len(cmd) == 0 || cmd[0] != want {
			t.Errorf("%s command = %v, want %q subcommand", svc, cmd, want)
		}
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	c := loadCompose(t)

	// DBとブローカーは外部へ出られない内部ネットワークに置くこと
	backend, ok := c.Networks["backend"]
	if !ok || backend == nil || !backend.Internal {
		t.Error("docker-compose.yml should define an internal backend network (internal: true)")
	}

	// 画像チェックのためworkerだけが外部ネットワークに参加すること
	for name, svc := range c.Services {
		hasExternal := false
		for _, n := range svc.Networks {
			if n == "external" {
				hasExternal = true
			}
		}
		if name == "worker" && !hasExternal {
			t.Error("worker should join the external network for image checks")
		}
		if name != "worker" && hasExternal {
			t.Errorf("service %q should not join the external network", name)
		}
	}
}
