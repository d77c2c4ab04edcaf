// Package artnet receives Art-Net lighting data over UDP.
//
// The Listener binds the Art-Net port (6454 by default), decodes each
// datagram with github.com/jsimonetti/go-artnet/packet and passes ArtDmx
// payloads to a Handler along with their 15-bit Port-Address. The handler
// runs on the receive goroutine and must not block.
//
// Usage:
//
//	l, err := artnet.Listen(ctx, "0.0.0.0:6454", func(addr uint16, data []byte) {
//	    rt.Deliver(router.UniverseAddress(addr), data)
//	})
//	if err != nil {
//	    return err
//	}
//	go l.Serve(ctx)
package artnet
