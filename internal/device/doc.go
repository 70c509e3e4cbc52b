// Package device provides the Device Registry of the console.
//
// The Device Registry holds the device list of the currently selected
// backend instance. It loads the list over the bus, clears it when the
// instance dies and reloads it when the instance comes back. A filter
// (free text plus group) narrows the list for display.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│  ┌──────────────────┐   ┌──────────────────┐  ┌────────────┐  │
//	│  │     Registry     │   │      Filter      │  │ Debouncer  │  │
//	│  │  (registry.go)   │──▶│   (filter.go)    │  │(debounce.go│  │
//	│  │                  │   │                  │  │            │  │
//	│  │ • selection      │   │ • text match     │  │ • one timer│  │
//	│  │ • load guard     │   │ • group narrowing│  │ • supersede│  │
//	│  │ • alive follow   │   │ • group counts   │  │            │  │
//	│  └──────────────────┘   └──────────────────┘  └────────────┘  │
//	│           │                                                   │
//	└───────────│───────────────────────────────────────────────────┘
//	            ▼
//	┌──────────────────────┐   ┌──────────────────────┐
//	│    bus.Transport     │   │  liveness.Registry   │
//	│  • dm:listDevices    │   │  • alive flag        │
//	│  • dm:deviceDetails  │   │  • dm:instanceInfo   │
//	└──────────────────────┘   └──────────────────────┘
//
// # Usage
//
//	registry := device.NewRegistry(transport, live, device.Options{
//	    Language:       "en",
//	    FilterDebounce: 250 * time.Millisecond,
//	})
//	registry.SetLogger(log)
//	registry.OnLoaded(func(instance string, devices []protocol.Device) {
//	    controls.Sync(instance, devices)
//	})
//
//	if err := registry.Select(ctx, "zigbee.0"); err != nil {
//	    return err
//	}
//	registry.SetFilterText("kitchen")
//	view := registry.View()
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Reloads triggered by liveness
// changes run on their own goroutine because bus callbacks must not block.
package device
