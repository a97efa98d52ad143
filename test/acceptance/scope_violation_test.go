package acceptance_test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("scope violation", func() {
	var tmpDir, repoDir string
	var d *daemon
	var c apiClient

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("nightshift-scope-*")
		runGit(repoDir, "branch", "dev")
		Expect(os.MkdirAll(filepath.Join(repoDir, "projects", "foo"), 0o755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(repoDir, "projects", "bar"), 0o755)).To(Succeed())

		storeDir := filepath.Join(tmpDir, "store")
		addr := freeAddr()
		configPath := filepath.Join(tmpDir, "nightshift.yaml")
		// The fake agent writes outside its allowed subtree, then prints a
		// command-boundary line so the Scope Guard scans and reacts.
		writeFile(configPath, fmt.Sprintf(`
server:
  address: %q
agent:
  command: "sh"
  args: ["-c", "echo 'bad stuff' > projects/bar/index.md; echo 'write-file exited 0 in 1.0ms:'; sleep 5"]
branch_discipline:
  enabled: true
  base_branch: "dev"
  branch_prefix: "ns-"
projects:
  agent-dev-host:
    path: %q
    allow: ["projects/foo/**"]
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

	It("reverts the offending file and fails the prompt", func() {
		submitted := c.submit("Touch something out of scope", "agent-dev-host")
		id := submitted["id"].(string)

		final := waitForStatus(c, id, 15*time.Second, "completed", "failed")
		Expect(final["status"]).To(Equal("failed"))
		Expect(final["result_summary"]).To(HavePrefix("Scope guard blocked"))

		data, err := os.ReadFile(filepath.Join(repoDir, "projects", "bar", "index.md"))
		if err == nil {
			Expect(string(data)).NotTo(ContainSubstring("bad stuff"))
		}

		violationLog := filepath.Join(repoDir, ".nightshift", "violations.jsonl")
		content, err := os.ReadFile(violationLog)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("projects/bar/index.md"))
		Expect(string(content)).To(ContainSubstring(id))
	})
})
