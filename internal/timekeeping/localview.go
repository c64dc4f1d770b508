package timekeeping

import "time"

// LocalView projects a Clock into one time zone.
//
// A view is stateless apart from the zone it caches: NowLocal converts the
// clock's UTC instant on demand, so every read reflects the driver's latest
// Advance. Many views may reference one clock, one per distinct zone in
// use.
//
// Ambiguous and skipped local times around daylight-saving transitions are
// resolved from the UTC side; UTC -> local is always well-defined, so a
// view can never land on a nonexistent wall-clock time.
type LocalView struct {
	clock *Clock
	zone  *time.Location
	name  string
}

// NewLocalView creates a view of clock in the named zone, resolving the
// zone through the given table.
func NewLocalView(clock *Clock, zones *ZoneTable, zoneName string) (*LocalView, error) {
	loc, err := zones.Resolve(zoneName)
	if err != nil {
		return nil, err
	}
	return &LocalView{clock: clock, zone: loc, name: zoneName}, nil
}

// NowLocal returns the clock's current instant as local wall-clock time.
func (v *LocalView) NowLocal() time.Time {
	return v.clock.NowUTC().In(v.zone)
}

// NowUTC returns the clock's current instant in UTC.
func (v *LocalView) NowUTC() time.Time {
	return v.clock.NowUTC()
}

// Zone returns the view's resolved rule set.
func (v *LocalView) Zone() *time.Location { return v.zone }

// ZoneName returns the identifier the view was registered under.
func (v *LocalView) ZoneName() string { return v.name }
