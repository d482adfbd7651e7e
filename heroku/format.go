package heroku

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/netintel/herokumcp/output"
)

type Named struct {
	Name string `json:"name"`
}

// App is the subset of the platform app object that is rendered.
type App struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region *Named `json:"region"`
	Stack  *Named `json:"stack"`
	State  string `json:"state"`
	WebURL string `json:"web_url"`
}

// AppInfo is the `apps:info --json` document.
type AppInfo struct {
	App    App               `json:"app"`
	Addons []json.RawMessage `json:"addons"`
	Dynos  []json.RawMessage `json:"dynos"`
}

type Release struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Current     bool   `json:"current"`
}

func nameOf(n *Named, fallback string) string {
	if n == nil || n.Name == "" {
		return fallback
	}
	return n.Name
}

func FormatApps(apps []App) string {
	lines := make([]string, len(apps))
	for i, app := range apps {
		lines[i] = fmt.Sprintf("- %s (%s) - %s", app.Name, nameOf(app.Region, "unknown"), output.Or(app.State, "unknown"))
	}
	return fmt.Sprintf("Found %d Heroku apps:\n\n%s", len(apps), strings.Join(lines, "\n"))
}

func FormatAppInfo(info AppInfo) string {
	return fmt.Sprintf("App: %s\nURL: %s\nRegion: %s\nStack: %s\nDynos: %d\nAdd-ons: %d",
		info.App.Name,
		output.Or(info.App.WebURL, "unknown"),
		nameOf(info.App.Region, "unknown"),
		nameOf(info.App.Stack, "unknown"),
		len(info.Dynos),
		len(info.Addons),
	)
}

func FormatDeploy(app, environment string, steps []string, webURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deploying %s to %s environment:\n\n", app, environment)
	for _, step := range steps {
		fmt.Fprintf(&b, "✓ %s\n", step)
	}
	b.WriteString("\n✅ Deployment completed successfully!\n")
	fmt.Fprintf(&b, "App URL: %s", webURL)
	return b.String()
}

func FormatScale(app, dynoType string, quantity int, size, stdout string) string {
	sizeNote := ""
	if size != "" {
		sizeNote = " (" + size + ")"
	}
	return fmt.Sprintf("Successfully scaled %s:\n- %s dynos: %d%s\n\nOutput: %s", app, dynoType, quantity, sizeNote, stdout)
}
