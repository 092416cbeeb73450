// Package imapsn is a serverless social network that keeps its state in a
// mailbox and talks to friends by mail.
//
// Every protocol message is a signed envelope attached to an ordinary mail.
// Friend requests are accepted on the key the requester presents; news items
// are only accepted from keys trusted during a completed handshake. The
// account's trust map, relationship ledger and groups live as documents in the
// account's own folder.
//
// # Getting Started
//
// Open a session over a document store, an inbox and a mail transport:
//
//	options := imapsn.NewOptions()
//	options.Account.DisplayName = "Alice"
//	options.Account.EmailID = "alice@example.org"
//	options.Account.PrivateKeyPassword = password
//	options.State = document.NewMemoryStore("IMAPSN")
//	options.Inbox = document.NewMemoryStore("INBOX")
//	options.Transport = transport
//
//	session, err := imapsn.Open(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if _, err := session.SendFriendRequest("bob@example.org"); err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := session.ProcessInbox()
//
// Connect does the same from a configuration file's settings, keeping the
// folders in a local bolt database.
//
// # Session lifecycle
//
// Open loads the account documents once; operations mutate them in memory and
// save the documents they touch. Flush writes every document back and Close
// flushes, compacts the folders and wipes the private key. Two sessions on the
// same account race at document granularity: the last writer wins.
package imapsn
