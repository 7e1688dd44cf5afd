package appcontext

import "apphub.local/matrix-bots/internal/apps"

// Placeholder figures until the apps expose live stats.
func defaultSources() map[string]Source {
	return map[string]Source{
		"echotravels.app": func(apps.AppInstance) map[string]any {
			return map[string]any{
				"upcomingTrips":   2,
				"savedPlaces":     14,
				"nextDestination": "Lisbon",
				"recentActivity":  []string{"Booked hotel in Lisbon", "Saved 3 restaurants in Porto"},
			}
		},
		"beatsync.app": func(apps.AppInstance) map[string]any {
			return map[string]any{
				"playlists":      8,
				"tracksThisWeek": 126,
				"topGenre":       "lo-fi",
				"recentActivity": []string{"Created playlist Focus Mix", "Synced 12 tracks"},
			}
		},
		"fitpulse.app": func(apps.AppInstance) map[string]any {
			return map[string]any{
				"workoutsThisWeek": 4,
				"weeklyGoal":       5,
				"streakDays":       11,
				"recentActivity":   []string{"Completed 5k run", "Logged upper body session"},
			}
		},
		"shopmate.app": func(apps.AppInstance) map[string]any {
			return map[string]any{
				"openOrders":     1,
				"wishlistItems":  6,
				"cartTotal":      "42.90 EUR",
				"recentActivity": []string{"Ordered running shoes", "Added headphones to wishlist"},
			}
		},
	}
}
