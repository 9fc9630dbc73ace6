package version

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// UpdateAvailableMsg reaches the monitor when a newer release exists.
type UpdateAvailableMsg struct {
	CurrentVersion string
	LatestVersion  string
	UpdateCommand  string
}

// CheckAsync is the monitor's update probe: a command that consults the
// day-old cache before touching the network and stays silent on any
// failure. A till with no connectivity sees nothing.
func CheckAsync(currentVersion string) tea.Cmd {
	return func() tea.Msg {
		if cached, err := LoadCache(); err == nil && IsCacheValid(cached, currentVersion) {
			if !cached.HasUpdate {
				return nil
			}
			return UpdateAvailableMsg{
				CurrentVersion: currentVersion,
				LatestVersion:  cached.LatestVersion,
				UpdateCommand:  UpdateCommand(cached.LatestVersion),
			}
		}

		result := Check(currentVersion)
		if result.Error != nil {
			// Failed lookups are not cached; the next run retries.
			return nil
		}
		_ = SaveCache(&CacheEntry{
			LatestVersion:  result.LatestVersion,
			CurrentVersion: currentVersion,
			CheckedAt:      time.Now(),
			HasUpdate:      result.HasUpdate,
		})

		if !result.HasUpdate {
			return nil
		}
		return UpdateAvailableMsg{
			CurrentVersion: currentVersion,
			LatestVersion:  result.LatestVersion,
			UpdateCommand:  UpdateCommand(result.LatestVersion),
		}
	}
}
