// Package client is the Go SDK for an oracled instance.
//
// A publisher generates a hash chain, allocates the slot controlled by its
// key, initialises it with the chain's first commitment and then reveals one
// link per Advance:
//
//	c := client.MustNew("http://localhost:8080", client.WithSigner(priv))
//
//	rec, err := c.Allocate(ctx, 0)
//	if err != nil {
//	    return err
//	}
//	if _, err := c.Init(ctx, rec.Slot, chain.Genesis()); err != nil {
//	    return err
//	}
//
//	link, _ := chain.Step(1)
//	res, err := c.Advance(ctx, rec.Slot, link.Next, link.Secret)
//
// Rejections by the chain processor are returned as *ProgramError:
//
//	var perr *client.ProgramError
//	if errors.As(err, &perr) && perr.Name == "IncorrectSecretOrHash" {
//	    // wrong reveal
//	}
package client
