/*
Package vault stores artifact content as content-addressed blobs and tracks
review state per artifact version.

Blobs live under artifacts/<first two hash bytes>/<hash>; identical content
is written once. Store assigns versions per (mission, task, type) chain and
auto-approves low-risk artifacts when the AUTO_APPROVE capability is held;
everything else waits in pending_review for an operator verdict.
*/
package vault
