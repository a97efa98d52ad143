package acceptance_test

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("happy path", func() {
	var tmpDir, repoDir string
	var d *daemon
	var c apiClient

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("nightshift-happy-*")
		runGit(repoDir, "branch", "dev")

		storeDir := filepath.Join(tmpDir, "store")
		addr := freeAddr()
		configPath := filepath.Join(tmpDir, "nightshift.yaml")
		writeFile(configPath, fmt.Sprintf(`
server:
  address: %q
agent:
  command: "sh"
  args: ["-c", "echo applied; echo 'write exited 0 in 1.0ms:'"]
branch_discipline:
  enabled: true
  base_branch: "dev"
  branch_prefix: "ns-"
projects:
  agent-dev-host:
    path: %q
store:
  dir: %q
  logs_dir: %q
auth:
  shared_secret: "testsecret"
health:
  interval: "30s"
`, addr, repoDir, storeDir, filepath.Join(storeDir, "logs")))

		d = startDaemon(configPath)
		c = apiClient{addr: addr, secret: "testsecret"}
		waitForHealth(addr, "testsecret")
	})

	AfterEach(func() {
		d.stop()
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("runs the prompt to completion and fast-forwards dev", func() {
		submitted := c.submit("Add CHANGELOG entry", "agent-dev-host")
		id := submitted["id"].(string)

		final := waitForStatus(c, id, 15*time.Second, "completed", "failed")
		Expect(final["status"]).To(Equal("completed"), "full record: %v", final)
		Expect(final["result_summary"]).To(Equal("Agent run succeeded"))
		Expect(final["attempt"]).To(BeNumerically("==", 1))

		branchOut := runGitOutput(repoDir, "branch", "--list", fmt.Sprintf("ns-%s-*", id))
		Expect(branchOut).To(BeEmpty(), "prompt branch should be deleted after fast-forward merge")

		status, full := c.get(id)
		Expect(status).To(Equal(http.StatusOK))
		attempts, ok := full["attempts"].([]any)
		Expect(ok).To(BeTrue())
		Expect(attempts).To(HaveLen(1))
	})

	It("writes only one attempt block to the per-prompt log", func() {
		submitted := c.submit("Tidy up docs", "agent-dev-host")
		id := submitted["id"].(string)
		waitForStatus(c, id, 15*time.Second, "completed", "failed")

		_, full := c.get(id)
		prompt, _ := full["prompt"].(map[string]any)
		logPath, _ := prompt["log_path"].(string)
		if logPath == "" {
			Skip("log_path not echoed by this build")
		}
		data, err := os.ReadFile(logPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("applied"))
		Expect(strings.Count(string(data), "=== Prompt received at ")).To(Equal(1))
	})
})
