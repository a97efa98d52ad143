package acceptance_test

import (
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("dirty workspace rejection", func() {
	var tmpDir, repoDir string
	var d *daemon
	var c apiClient

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("nightshift-dirty-*")
		runGit(repoDir, "branch", "dev")

		// Leave an uncommitted modification before the daemon starts.
		writeFile(filepath.Join(repoDir, "hello.txt"), "hello world, modified\n")

		storeDir := filepath.Join(tmpDir, "store")
		addr := freeAddr()
		configPath := filepath.Join(tmpDir, "nightshift.yaml")
		writeFile(configPath, fmt.Sprintf(`
server:
  address: %q
agent:
  command: "sh"
  args: ["-c", "echo applied"]
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

	It("fails the prompt without spawning the agent", func() {
		submitted := c.submit("Should never run", "agent-dev-host")
		id := submitted["id"].(string)

		final := waitForStatus(c, id, 10*time.Second, "completed", "failed")
		Expect(final["status"]).To(Equal("failed"))
		Expect(final["result_summary"]).To(ContainSubstring("dirty"))
	})
})
