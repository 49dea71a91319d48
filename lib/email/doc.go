// Package email cuts a message into encrypted EmailPackets for one
// recipient and puts the decrypted packets back together.
//
// Each fragment carries its own random deletion key inside the encrypted
// region. Only the hash of that key is visible to the storage nodes, so
// only the recipient can later ask them to delete the packet.
package email
