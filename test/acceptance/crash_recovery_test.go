package acceptance_test

import (
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("crash recovery", func() {
	var tmpDir, repoDir, configPath, addr string

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("nightshift-crash-*")
		runGit(repoDir, "branch", "dev")

		storeDir := filepath.Join(tmpDir, "store")
		addr = freeAddr()
		configPath = filepath.Join(tmpDir, "nightshift.yaml")
		writeFile(configPath, fmt.Sprintf(`
server:
  address: %q
agent:
  command: "sh"
  args: ["-c", "sleep 30"]
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
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("rewrites a running prompt to failed on the next start", func() {
		first := startDaemon(configPath)
		c := apiClient{addr: addr, secret: "testsecret"}
		waitForHealth(addr, "testsecret")

		submitted := c.submit("Work that will be interrupted", "agent-dev-host")
		id := submitted["id"].(string)
		waitForStatus(c, id, 10*time.Second, "running")

		Expect(first.cmd.Process.Kill()).To(Succeed())
		_, _ = first.cmd.Process.Wait()
		first.stopped = true

		addr2 := freeAddr()
		configPath2 := filepath.Join(tmpDir, "nightshift-restart.yaml")
		writeFile(configPath2, fmt.Sprintf(`
server:
  address: %q
agent:
  command: "sh"
  args: ["-c", "sleep 30"]
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
`, addr2, repoDir, filepath.Join(tmpDir, "store"), filepath.Join(tmpDir, "store", "logs")))

		second := startDaemon(configPath2)
		defer second.stop()
		waitForHealth(addr2, "testsecret")

		c2 := apiClient{addr: addr2, secret: "testsecret"}
		status, full := c2.get(id)
		Expect(status).To(Equal(200))
		prompt := full["prompt"].(map[string]any)
		Expect(prompt["status"]).To(Equal("failed"))
		Expect(prompt["result_summary"]).To(ContainSubstring("interrupted when backend restarted"))
	})
})
