package mockserver

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var vehicleLocations = []string{"central", "east", "tech", "south", "west", "north"}

const maxVehicleSpeed = 200

type display struct {
	Text       string
	Subtext    string
	ImageURL   string
	Status     string
	LastUpdate time.Time
}

type vehicle struct {
	Location string
	Speed    int
	Paused   bool
	View     string
}

type ePalette struct {
	mu      sync.Mutex
	display display
	vehicle vehicle
	now     func() time.Time
}

func newEPalette() *ePalette {
	e := &ePalette{now: time.Now}
	e.display = display{
		Text:       "🍕 Mobile Food Service 🌮",
		Subtext:    "AI-Powered · Auto Delivery",
		Status:     "ready",
		LastUpdate: e.now(),
	}
	e.vehicle = vehicle{Location: "central", Speed: 15, View: "follow"}
	return e
}

func (e *ePalette) tools() []Tool {
	return []Tool{
		{
			Definition: def("get_epalette_status",
				"Get comprehensive ePalette status including display and vehicle information",
				schema(nil)),
			Handler: e.getStatus,
		},
		{
			Definition: def("update_display_text", "Update ePalette LED display text",
				schema(map[string]any{
					"text":    map[string]any{"type": "string", "description": "Main text to display on the LED screen"},
					"subtext": map[string]any{"type": "string", "description": "Sub text to display below the main text", "default": ""},
				}, "text")),
			Handler: e.updateText,
		},
		{
			Definition: def("update_display_image", "Update ePalette LED display image",
				schema(map[string]any{
					"image_url": map[string]any{"type": "string", "description": "URL of the image to display on the LED screen"},
				}, "image_url")),
			Handler: e.updateImage,
		},
		{
			Definition: def("clear_display", "Clear ePalette LED display", schema(nil)),
			Handler:    e.clear,
		},
		{
			Definition: def("control_vehicle", "Control ePalette vehicle movement and status",
				schema(map[string]any{
					"speed": map[string]any{
						"type": "integer", "description": "Vehicle speed in km/h (0-200)",
						"minimum": 0, "maximum": maxVehicleSpeed,
					},
					"paused": map[string]any{"type": "boolean", "description": "Whether to pause the vehicle"},
					"location": map[string]any{
						"type": "string", "description": "Vehicle location (central, east, tech, south, west, north)",
						"enum": vehicleLocations,
					},
				})),
			Handler: e.control,
		},
		{
			Definition: def("get_display_status", "Get current ePalette display status", schema(nil)),
			Handler:    e.displayStatus,
		},
	}
}

func (e *ePalette) getStatus(context.Context, map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, v := e.display, e.vehicle
	lines := []string{
		"🚐 **ePalette Status:**\n",
		"📺 **Display:**",
		"  • Text: " + orNA(d.Text),
		"  • Subtext: " + orNA(d.Subtext),
		"  • Status: " + orNA(d.Status),
		"  • Last Update: " + d.LastUpdate.Format(time.RFC3339),
		"\n🚗 **Vehicle:**",
		"  • Location: " + v.Location,
		fmt.Sprintf("  • Speed: %d km/h", v.Speed),
		"  • Paused: " + yesNo(v.Paused),
		"  • View: " + v.View,
	}
	return strings.Join(lines, "\n"), nil
}

func (e *ePalette) updateText(_ context.Context, args map[string]any) (string, error) {
	text, ok := stringArg(args, "text")
	if !ok || text == "" {
		return "", fmt.Errorf("text is required")
	}
	subtext, _ := stringArg(args, "subtext")

	e.mu.Lock()
	defer e.mu.Unlock()
	e.display.Text = text
	e.display.Subtext = subtext
	e.display.ImageURL = ""
	e.display.Status = "text"
	e.display.LastUpdate = e.now()

	return fmt.Sprintf("✅ **Display Text Updated Successfully!**\n"+
		"📺 Main Text: %s\n"+
		"📝 Sub Text: %s\n"+
		"🕐 Updated: %s",
		text, subtext, e.display.LastUpdate.Format(time.RFC3339)), nil
}

func (e *ePalette) updateImage(_ context.Context, args map[string]any) (string, error) {
	url, ok := stringArg(args, "image_url")
	if !ok || url == "" {
		return "", fmt.Errorf("image_url is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.display.ImageURL = url
	e.display.Status = "image"
	e.display.LastUpdate = e.now()

	return fmt.Sprintf("✅ **Display Image Updated Successfully!**\n"+
		"🖼️ Image URL: %s\n"+
		"🕐 Updated: %s",
		url, e.display.LastUpdate.Format(time.RFC3339)), nil
}

func (e *ePalette) clear(context.Context, map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.display = display{Status: "cleared", LastUpdate: e.now()}

	return "✅ **Display Cleared Successfully!**\n" +
		"📺 Display is now blank\n" +
		"🕐 Cleared: " + e.display.LastUpdate.Format(time.RFC3339), nil
}

func (e *ePalette) control(_ context.Context, args map[string]any) (string, error) {
	var speed *int
	if _, present := args["speed"]; present {
		n, err := intArg(args, "speed", 0)
		if err != nil {
			return "", err
		}
		if n < 0 || n > maxVehicleSpeed {
			return "", fmt.Errorf("speed must be between 0 and %d", maxVehicleSpeed)
		}
		speed = &n
	}
	paused, hasPaused, err := boolArg(args, "paused")
	if err != nil {
		return "", err
	}
	location, hasLocation := stringArg(args, "location")
	if hasLocation && !slices.Contains(vehicleLocations, location) {
		return "", fmt.Errorf("unknown location %q (valid: %s)", location, strings.Join(vehicleLocations, ", "))
	}
	if speed == nil && !hasPaused && !hasLocation {
		return "", fmt.Errorf("at least one of speed, paused or location is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lines := []string{"✅ **Vehicle Control Updated Successfully!**\n"}
	if speed != nil {
		e.vehicle.Speed = *speed
		lines = append(lines, fmt.Sprintf("🚗 Speed: %d km/h", *speed))
	}
	if hasPaused {
		e.vehicle.Paused = paused
		lines = append(lines, "⏸️ Paused: "+yesNo(paused))
	}
	if hasLocation {
		e.vehicle.Location = location
		lines = append(lines, "📍 Location: "+location)
	}
	return strings.Join(lines, "\n"), nil
}

func (e *ePalette) displayStatus(context.Context, map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.display
	lines := []string{
		"📺 **Display Status:**\n",
		"📝 Text: " + orNA(d.Text),
		"📄 Subtext: " + orNA(d.Subtext),
		"🖼️ Image URL: " + orNA(d.ImageURL),
		"📊 Status: " + orNA(d.Status),
		"🕐 Last Update: " + d.LastUpdate.Format(time.RFC3339),
	}
	return strings.Join(lines, "\n"), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
