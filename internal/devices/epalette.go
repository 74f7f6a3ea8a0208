package devices

import (
	"context"

	"github.com/nugget/city-bridge/internal/mcp"
)

// DefaultEPaletteCommand launches the e-Palette server from the demo
// checkout.
var DefaultEPaletteCommand = []string{"python", "mcp_servers/epalette_mcp_server.py"}

// Locations the e-Palette vehicle can be sent to.
var Locations = []string{"central", "east", "tech", "south", "west", "north"}

// MaxSpeed is the highest speed (km/h) the vehicle accepts.
const MaxSpeed = 200

// VehicleControl holds the optional fields of a control_vehicle call.
// Nil or empty fields are left out of the request, which leaves that
// aspect of the vehicle unchanged.
type VehicleControl struct {
	Speed    *int
	Paused   *bool
	Location string
}

// EPalette is the client for the e-Palette vehicle and display server.
type EPalette struct {
	*mcp.Client
}

// NewEPalette creates an e-Palette client.
func NewEPalette(opts Options) *EPalette {
	return &EPalette{Client: NewClient("ePaletteMCP", DefaultEPaletteCommand, opts)}
}

func (e *EPalette) GetStatus(ctx context.Context) (string, error) {
	return e.CallTool(ctx, "get_epalette_status", nil)
}

// UpdateDisplayText shows text on the LED screen with an optional
// subtext line below it.
func (e *EPalette) UpdateDisplayText(ctx context.Context, text, subtext string) (string, error) {
	return e.CallTool(ctx, "update_display_text", map[string]any{
		"text":    text,
		"subtext": subtext,
	})
}

func (e *EPalette) UpdateDisplayImage(ctx context.Context, imageURL string) (string, error) {
	return e.CallTool(ctx, "update_display_image", map[string]any{
		"image_url": imageURL,
	})
}

func (e *EPalette) ClearDisplay(ctx context.Context) (string, error) {
	return e.CallTool(ctx, "clear_display", nil)
}

// ControlVehicle changes speed, pause state or location. Range and enum
// checks are the server's job.
func (e *EPalette) ControlVehicle(ctx context.Context, vc VehicleControl) (string, error) {
	args := map[string]any{}
	if vc.Speed != nil {
		args["speed"] = *vc.Speed
	}
	if vc.Paused != nil {
		args["paused"] = *vc.Paused
	}
	if vc.Location != "" {
		args["location"] = vc.Location
	}
	return e.CallTool(ctx, "control_vehicle", args)
}

func (e *EPalette) GetDisplayStatus(ctx context.Context) (string, error) {
	return e.CallTool(ctx, "get_display_status", nil)
}
