package acceptance_test

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("cancel with restart", func() {
	var tmpDir, repoDir string
	var d *daemon
	var c apiClient

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("nightshift-cancel-*")
		runGit(repoDir, "branch", "dev")

		storeDir := filepath.Join(tmpDir, "store")
		addr := freeAddr()
		configPath := filepath.Join(tmpDir, "nightshift.yaml")
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

		d = startDaemon(configPath)
		c = apiClient{addr: addr, secret: "testsecret"}
		waitForHealth(addr, "testsecret")
	})

	AfterEach(func() {
		d.stop()
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("re-enqueues the prompt and the worker picks it up again", func() {
		submitted := c.submit("Long-running change", "agent-dev-host")
		id := submitted["id"].(string)

		waitForStatus(c, id, 10*time.Second, "running")

		status, _ := c.cancel(id, true)
		Expect(status).To(Equal(http.StatusOK))

		queued := waitForStatus(c, id, 10*time.Second, "queued", "running")
		Expect(queued["attempt"]).To(BeNumerically(">=", 1))

		waitForStatus(c, id, 10*time.Second, "running")

		Eventually(func() any {
			_, full := c.get(id)
			prompt, _ := full["prompt"].(map[string]any)
			return prompt["attempt"]
		}, 15*time.Second, 100*time.Millisecond).Should(BeNumerically(">=", 2))
	})
})
