// Command lockdebug is an operator CLI for exercising the lock state engine
// directly, without a full NFSv4 transport in front of it. Each invocation
// runs one LOCK/LOCKU/LOCKT/release call against a fresh engine, so a
// multi-step client sequence cannot be replayed across invocations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
