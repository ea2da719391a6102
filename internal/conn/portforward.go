package conn

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"rdeskd/internal/constants"
)

// runPortForward turns the connection into a raw byte relay toward the
// requested target. It blocks until either side closes or the tunnel idles
// out. RDP requests (port 0 or host "RDP") land on the local RDP port.
func (c *Connection) runPortForward() {
	pf := c.portForward
	host := pf.Host
	port := pf.Port
	label := host
	if port == 0 || strings.EqualFold(host, "rdp") {
		host, port, label = "localhost", 3389, "RDP"
	}
	if host == "" {
		host = "localhost"
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))

	c.logEvent("port forward to " + target)
	remote, err := net.DialTimeout("tcp", target, constants.ForwardDialTimeout)
	if err != nil {
		c.sendLoginError(fmt.Sprintf(
			"Failed to access remote %s, please make sure if it is open", label))
		c.closeWith(constants.ReasonResetByPeer, false)
		return
	}
	defer remote.Close()

	c.stream.SetSendTimeout(constants.SendTimeoutOther)
	c.stream.SetRaw()

	activity := make(chan struct{}, 1)
	errc := make(chan error, 2)

	note := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	// peer -> target
	go func() {
		for {
			data, err := c.stream.NextRaw()
			if err != nil {
				errc <- err
				return
			}
			note()
			if _, err := remote.Write(data); err != nil {
				errc <- err
				return
			}
		}
	}()

	// target -> peer
	go func() {
		buf := make([]byte, constants.WSBufferSize)
		for {
			n, err := remote.Read(buf)
			if n > 0 {
				note()
				if werr := c.stream.SendRaw(buf[:n]); werr != nil {
					errc <- werr
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	idle := time.NewTimer(constants.ForwardIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-activity:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(constants.ForwardIdleTimeout)
		case <-errc:
			c.closeWith(constants.ReasonResetByPeer, false)
			return
		case <-idle.C:
			c.logEvent("port forward idle, closing")
			c.closeWith(constants.ReasonResetByPeer, false)
			return
		case ids := <-c.kick:
			if kickMatches(ids, c.id) {
				c.closeWith(constants.ReasonWebConsole, false)
				return
			}
		}
	}
}
