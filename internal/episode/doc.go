// Package episode assembles a finished episode from upstream shot documents.
//
// The Coordinator runs six ordered phases: fetch shots, generate missing
// video through the batch manager, synthesize dialogue and score, build the
// timeline, render it, and persist the result. State is saved at every phase
// boundary so a failed assembly resumes at the phase that failed instead of
// regenerating finished work. The coordinator is the only layer that decides
// whether a failure is resumable.
package episode
