// Command signalhop is the peer-side client: it joins a room through a
// relay, completes the rendezvous, and pipes stdin/stdout over the resulting
// data channel.
package main

func main() {
	execute()
}
