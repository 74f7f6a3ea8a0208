package toolkit

import (
	"context"

	"github.com/nugget/city-bridge/internal/devices"
	"github.com/nugget/city-bridge/internal/tools"
)

// EPalette is the e-Palette vehicle and display toolkit.
type EPalette struct {
	*adapter
	ep *devices.EPalette
}

// NewEPalette wraps an e-Palette client.
func NewEPalette(ep *devices.EPalette, cfg Config) *EPalette {
	return &EPalette{adapter: newAdapter("epalette", ep.Client, cfg), ep: ep}
}

func (e *EPalette) GetStatus(ctx context.Context) string {
	return e.invoke(ctx, "get_epalette_status", "getting ePalette status", nil, e.ep.GetStatus)
}

func (e *EPalette) UpdateDisplayText(ctx context.Context, text, subtext string) string {
	args := map[string]any{"text": text, "subtext": subtext}
	return e.invoke(ctx, "update_display_text", "updating display text", args, func(ctx context.Context) (string, error) {
		return e.ep.UpdateDisplayText(ctx, text, subtext)
	})
}

func (e *EPalette) UpdateDisplayImage(ctx context.Context, imageURL string) string {
	args := map[string]any{"image_url": imageURL}
	return e.invoke(ctx, "update_display_image", "updating display image", args, func(ctx context.Context) (string, error) {
		return e.ep.UpdateDisplayImage(ctx, imageURL)
	})
}

func (e *EPalette) ClearDisplay(ctx context.Context) string {
	return e.invoke(ctx, "clear_display", "clearing display", nil, e.ep.ClearDisplay)
}

// ControlVehicle changes any of speed, pause state and location.
func (e *EPalette) ControlVehicle(ctx context.Context, vc devices.VehicleControl) string {
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
	return e.invoke(ctx, "control_vehicle", "controlling vehicle", args, func(ctx context.Context) (string, error) {
		return e.ep.ControlVehicle(ctx, vc)
	})
}

func (e *EPalette) GetDisplayStatus(ctx context.Context) string {
	return e.invoke(ctx, "get_display_status", "getting display status", nil, e.ep.GetDisplayStatus)
}

// Register adds the e-Palette tools to reg.
func (e *EPalette) Register(_ context.Context, reg *tools.Registry) (int, error) {
	return e.register(reg, []*tools.Tool{
		{
			Name:        "get_epalette_status",
			Description: "Get comprehensive ePalette status including display and vehicle information.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(e.GetStatus),
		},
		{
			Name:        "update_display_text",
			Description: "Update the text shown on the ePalette LED display.",
			Parameters: objectSchema(map[string]any{
				"text":    map[string]any{"type": "string", "description": "Main text to display on the LED screen"},
				"subtext": map[string]any{"type": "string", "description": "Sub text to display below the main text", "default": ""},
			}, "text"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				text, err := requiredString(args, "text")
				if err != nil {
					return e.reject(ctx, "update_display_text", "updating display text", args, err), nil
				}
				subtext, err := optionalString(args, "subtext")
				if err != nil {
					return e.reject(ctx, "update_display_text", "updating display text", args, err), nil
				}
				return e.UpdateDisplayText(ctx, text, subtext), nil
			},
		},
		{
			Name:        "update_display_image",
			Description: "Show an image on the ePalette LED display.",
			Parameters: objectSchema(map[string]any{
				"image_url": map[string]any{"type": "string", "description": "URL of the image to display on the LED screen"},
			}, "image_url"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				url, err := requiredString(args, "image_url")
				if err != nil {
					return e.reject(ctx, "update_display_image", "updating display image", args, err), nil
				}
				return e.UpdateDisplayImage(ctx, url), nil
			},
		},
		{
			Name:        "clear_display",
			Description: "Clear the ePalette LED display.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(e.ClearDisplay),
		},
		{
			Name:        "control_vehicle",
			Description: "Control ePalette vehicle speed, pause state and location. Omitted fields stay unchanged.",
			Parameters: objectSchema(map[string]any{
				"speed": map[string]any{
					"type": "integer", "description": "Vehicle speed in km/h (0-200)",
					"minimum": 0, "maximum": devices.MaxSpeed,
				},
				"paused": map[string]any{"type": "boolean", "description": "Whether to pause the vehicle"},
				"location": map[string]any{
					"type": "string", "description": "Vehicle location",
					"enum": devices.Locations,
				},
			}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var vc devices.VehicleControl
				var err error
				if vc.Speed, err = optionalInt(args, "speed"); err != nil {
					return e.reject(ctx, "control_vehicle", "controlling vehicle", args, err), nil
				}
				if vc.Paused, err = optionalBool(args, "paused"); err != nil {
					return e.reject(ctx, "control_vehicle", "controlling vehicle", args, err), nil
				}
				if vc.Location, err = optionalString(args, "location"); err != nil {
					return e.reject(ctx, "control_vehicle", "controlling vehicle", args, err), nil
				}
				return e.ControlVehicle(ctx, vc), nil
			},
		},
		{
			Name:        "get_display_status",
			Description: "Get current ePalette display status.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(e.GetDisplayStatus),
		},
	})
}
