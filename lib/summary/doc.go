/*
Package summary keeps running statistics of the records of every dataset.

For numerical features the summary holds the number of values, mean, variance, minimum and maximum;
for categorical features a histogram of the values. NaN, infinite values and empty strings are
counted as missing. Summaries are updated whenever records are stored and persisted as JSON in the
key-value store (bucket DefaultBucket), so they survive restarts.
*/
package summary
