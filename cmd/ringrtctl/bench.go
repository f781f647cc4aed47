package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ringrt/ringrt"
	"github.com/ringrt/ringrt/ionet"
	"github.com/ringrt/ringrt/pctx"
	"github.com/ringrt/ringrt/timerwheel"
)

// newBenchCmd builds "ringrtctl bench": SPEC_FULL.md §2.3's end-to-end
// smoke test. It spins up a runtime, accepts one TCP connection on an
// ephemeral loopback port while a background interval tick counts
// elapsed periods, and reports both counts once the connection closes.
func newBenchCmd() *cobra.Command {
	var addr string
	var period time.Duration

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Exercise a runtime end-to-end: a TCP listener plus an interval timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(addr, period)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:0", "address to listen on")
	cmd.Flags().DurationVar(&period, "tick", 100*time.Millisecond, "interval timer period")
	return cmd
}

func runBench(addr string, period time.Duration) error {
	rt, err := ringrt.New(ringrt.Options{
		RingEntries:  uint32(viper.GetInt("ring-entries")),
		FiberPoolCap: viper.GetInt("fiber-pool-cap"),
		Debug:        viper.GetBool("debug"),
	})
	if err != nil {
		return fmt.Errorf("New: %w", err)
	}
	defer rt.Close()

	ticks, bytesEchoed := ringrt.BlockOn(rt, func(c *pctx.Context) [2]int {
		ln, err := ionet.ListenTCP(c, rt.Driver(), addr)
		if err != nil {
			fmt.Printf("ListenTCP: %v\n", err)
			return [2]int{}
		}
		defer ln.Close(c)

		local, err := ln.LocalAddr()
		if err != nil {
			fmt.Printf("LocalAddr: %v\n", err)
			return [2]int{}
		}
		fmt.Printf("listening on %s\n", local)

		ticker := ringrt.Spawn(c, func(child *pctx.Context) int {
			iv := rt.NewInterval(period, timerwheel.Skip)
			n := 0
			for n < 5 {
				if err := iv.Tick(child); err != nil {
					return n
				}
				n++
			}
			return n
		})

		echoer := ringrt.Spawn(c, func(child *pctx.Context) int {
			conn, err := ln.Accept(child)
			if err != nil {
				return 0
			}
			defer conn.Close(child)

			buf := make([]byte, 4096)
			total := 0
			for {
				n, err := conn.Recv(child, buf)
				if err != nil || n == 0 {
					return total
				}
				total += n
				if _, err := conn.Send(child, buf[:n]); err != nil {
					return total
				}
			}
		})

		client, err := ionet.DialTCP(c, rt.Driver(), fmt.Sprintf("127.0.0.1:%d", local.Port))
		if err != nil {
			fmt.Printf("DialTCP: %v\n", err)
			return [2]int{ticker.Join(c), 0}
		}
		payload := []byte("ringrtctl bench\n")
		if _, err := client.Send(c, payload); err != nil {
			fmt.Printf("Send: %v\n", err)
		}
		_ = client.Shutdown(c, 1)
		_ = client.Close(c)

		return [2]int{ticker.Join(c), echoer.Join(c)}
	})

	fmt.Printf("ticks=%d bytes_echoed=%d\n", ticks, bytesEchoed)
	return nil
}
