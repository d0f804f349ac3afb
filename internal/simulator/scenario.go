package simulator

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/logging"
)

// scenario is one independently tracked client population with its neighbor set.
type scenario struct {
	clients   *clientTable
	neighbors map[string]struct{}
	order     []string
}

func newScenario(macs, neighbors []string, now time.Time) *scenario {
	sc := &scenario{
		clients:   newClientTable(macs, now),
		neighbors: make(map[string]struct{}, len(neighbors)),
	}
	for _, mac := range neighbors {
		if _, exists := sc.neighbors[mac]; exists {
			continue
		}
		sc.neighbors[mac] = struct{}{}
		sc.order = append(sc.order, mac)
	}
	return sc
}

func (sc *scenario) hasNeighbor(mac string) bool {
	_, ok := sc.neighbors[mac]
	return ok
}

// buildScenarios creates one scenario per neighbor set (or per configured
// client count, whichever is longer), all sharing the static client list.
func buildScenarios(clients []string, neighbors [][]string, numsClients []int, now time.Time) []*scenario {
	count := len(neighbors)
	if len(numsClients) > count {
		count = len(numsClients)
	}
	if count == 0 {
		count = 1
	}

	scenarios := make([]*scenario, count)
	for i := range scenarios {
		var nb []string
		if i < len(neighbors) {
			nb = neighbors[i]
		}
		scenarios[i] = newScenario(clients, nb, now)
	}
	return scenarios
}

// generateScenarios builds scenariosPerAPSetting scenarios for every neighbor
// set. Each scenario gets a random number of clients in [1, maxNumClients]
// whose MACs are derived from the client prefix. The client counts are read
// from the backup file when it holds a matching array and written to it
// otherwise.
func generateScenarios(sim config.SimulationConfig, neighbors [][]string, rng *rand.Rand, logger logging.Logger, now time.Time) ([]*scenario, []int) {
	settings := neighbors
	if len(settings) == 0 {
		settings = [][]string{{}}
	}
	perSetting := sim.ScenariosPerAPSetting
	if perSetting < 1 {
		perSetting = 1
	}
	count := len(settings) * perSetting

	nums, err := loadScenarioBackup(sim.ScenarioBackup, count)
	if err != nil {
		logger.Warn("Scenario backup unusable, generating new client counts",
			logging.F("path", sim.ScenarioBackup), logging.F("error", err))
	}
	if nums == nil {
		nums = make([]int, count)
		for i := range nums {
			nums[i] = 1 + rng.IntN(sim.MaxNumClients)
		}
		if sim.ScenarioBackup != "" {
			if err := saveScenarioBackup(sim.ScenarioBackup, nums); err != nil {
				logger.Error("Failed to write scenario backup",
					logging.F("path", sim.ScenarioBackup), logging.F("error", err))
			} else {
				logger.Info("Scenario backup written",
					logging.F("path", sim.ScenarioBackup), logging.F("scenarios", count))
			}
		}
	} else {
		logger.Info("Scenario client counts loaded from backup",
			logging.F("path", sim.ScenarioBackup), logging.F("scenarios", count))
	}

	scenarios := make([]*scenario, count)
	for i := range scenarios {
		macs := make([]string, nums[i])
		for j := range macs {
			macs[j] = generatedMAC(sim.ClientPrefix, i, j)
		}
		scenarios[i] = newScenario(macs, settings[i/perSetting], now)
	}
	return scenarios, nums
}

func generatedMAC(prefix string, scenario, client int) string {
	return fmt.Sprintf("%s:%02x:%02x", prefix, scenario&0xff, client&0xff)
}

// loadScenarioBackup returns nil without error when no backup is configured or
// the file does not exist yet.
func loadScenarioBackup(path string, count int) ([]int, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return nil, fmt.Errorf("failed to parse scenario backup: %w", err)
	}
	if len(nums) != count {
		return nil, fmt.Errorf("scenario backup holds %d entries, expected %d", len(nums), count)
	}
	for i, n := range nums {
		if n < 0 {
			return nil, fmt.Errorf("scenario backup entry %d is negative: %d", i, n)
		}
	}
	return nums, nil
}

func saveScenarioBackup(path string, nums []int) error {
	data, err := json.Marshal(nums)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
