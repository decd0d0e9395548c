// Package sftp delivers enhanced images to the remote store over SFTP.
//
// Conn owns one shared SSH/SFTP session that is dialed on first use and
// redialed lazily after the session dies. Uploader streams a local file in
// fixed-size chunks with a bounded window of concurrent writes and reports
// progress in acknowledgement order.
package sftp
