// Package tasks runs long batch operations over the catalog with non-blocking progress reporting.
//
// # Operations
//
//  1. [Engine.Collect] : walk every page of a remote playlist
//     - Follows continuation tokens until the playlist is exhausted or a page cap is reached
//     - Drops duplicate and invalid tracks
//
//  2. [Engine.BulkDownload] : copy many tracks into the permanent cache
//     - Worker pool bounded by [BulkDownloadOpts.NumWorkers]
//     - Provider requests paced by a token bucket
//     - Tracks already downloaded are skipped, failures are reported per track
//
// # Progress Reporting
//
// Operations accept an optional channel of [ProgressUpdate] values. Sends use select with
// default so a slow or absent consumer never stalls the work.
package tasks
