package dispatch

// DriversChannel reaches every online driver.
const DriversChannel = "drivers"

func driverChannel(driverID string) string     { return "driver:" + driverID }
func customerChannel(customerID string) string { return "customer:" + customerID }

// Presence maps online drivers to the connection that announced them.
// It is not safe for concurrent use; the Coordinator serializes access.
type Presence struct {
	drivers map[string]string
	tr      Transport
}

func NewPresence(tr Transport) *Presence {
	return &Presence{drivers: make(map[string]string), tr: tr}
}

// MarkOnline records driverID as reachable on connID and joins it to the
// driver channels. A second announcement for the same driver moves the entry
// to the new connection and takes the old one out of the broadcast channel.
// It returns the number of online drivers.
func (p *Presence) MarkOnline(driverID, connID string) int {
	if prev, ok := p.drivers[driverID]; ok && prev != connID {
		p.tr.Unsubscribe(prev, DriversChannel)
		p.tr.Unsubscribe(prev, driverChannel(driverID))
	}
	p.drivers[driverID] = connID
	p.tr.Subscribe(connID, DriversChannel)
	p.tr.Subscribe(connID, driverChannel(driverID))
	return len(p.drivers)
}

// MarkOffline removes driverID. Unknown drivers are ignored.
func (p *Presence) MarkOffline(driverID string) bool {
	connID, ok := p.drivers[driverID]
	if !ok {
		return false
	}
	delete(p.drivers, driverID)
	p.tr.Unsubscribe(connID, DriversChannel)
	p.tr.Unsubscribe(connID, driverChannel(driverID))
	return true
}

// ConnectionClosed drops every entry bound to connID and returns the affected
// driver identifiers.
func (p *Presence) ConnectionClosed(connID string) []string {
	var gone []string
	for driverID, c := range p.drivers {
		if c == connID {
			delete(p.drivers, driverID)
			gone = append(gone, driverID)
		}
	}
	return gone
}

func (p *Presence) Count() int { return len(p.drivers) }

// ConnOf returns the connection a driver announced itself on.
func (p *Presence) ConnOf(driverID string) (string, bool) {
	c, ok := p.drivers[driverID]
	return c, ok
}

// BroadcastToAll queues frame for every member of the drivers channel.
func (p *Presence) BroadcastToAll(frame []byte) int {
	return p.tr.Publish(DriversChannel, frame)
}

// BroadcastExcept is BroadcastToAll without connID.
func (p *Presence) BroadcastExcept(connID string, frame []byte) int {
	return p.tr.PublishExcept(DriversChannel, connID, frame)
}
